// Package output defines the secondary/driven ports of the application.
package output

import "context"

// ObjectStorage is a remote location holding dataset files. Only files for
// which domain.IsDatasetFile holds are listed.
type ObjectStorage interface {
	// List returns the dataset files currently in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Download copies a dataset file to dest, replacing any existing file.
	Download(ctx context.Context, key string, dest string) error
}

// StorageObject describes one remote dataset file. Backends fill either ETag
// or Size and LastModified, whichever they can provide.
type StorageObject struct {
	Key          string // Path relative to the storage root
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash or version string
}

// SameVersion reports whether o and other describe the same file content.
// ETags are compared when either side has one.
func (o StorageObject) SameVersion(other StorageObject) bool {
	if o.ETag != "" || other.ETag != "" {
		return o.ETag == other.ETag
	}
	return o.Size == other.Size && o.LastModified == other.LastModified
}

// StorageType names a storage backend.
type StorageType string

// Storage backends.
const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
)
