package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// LocalStorage serves datasets from a directory, e.g. a mounted share.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a local storage backend rooted at basePath.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List walks the directory and returns every dataset file.
func (s *LocalStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !domain.IsDatasetFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.StorageObject{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, storageError("list", s.basePath, err)
	}
	return objects, nil
}

// Download copies a dataset into dest. Copying a file onto itself is a no-op.
func (s *LocalStorage) Download(_ context.Context, key string, dest string) error {
	src := s.FullPath(key)
	if filepath.Clean(src) == filepath.Clean(dest) {
		return nil
	}

	f, err := os.Open(src) //#nosec G304 -- key comes from List
	if err != nil {
		return storageError("download", key, err)
	}
	defer func() { _ = f.Close() }()

	return storageError("download", key, writeFile(dest, f))
}

// FullPath returns the path of a key inside the storage directory.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
