// Package storage provides the dataset storage backends.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// Config selects and configures a backend.
type Config struct {
	Type      output.StorageType
	LocalPath string // Remote directory for the local backend
	S3        S3Config
	Azure     AzureConfig
	HTTP      HTTPConfig
}

// New creates the backend named by cfg.Type.
func New(ctx context.Context, cfg Config) (output.ObjectStorage, error) {
	switch cfg.Type {
	case output.StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath), nil
	case output.StorageTypeS3:
		return NewS3Storage(ctx, cfg.S3)
	case output.StorageTypeAzure:
		return NewAzureStorage(cfg.Azure)
	case output.StorageTypeHTTP:
		return NewHTTPStorage(cfg.HTTP), nil
	default:
		return nil, &domain.ConfigError{Field: "storage.type", Message: fmt.Sprintf("unknown storage type %q", cfg.Type)}
	}
}

// writeFile streams r into dest through a temporary file in the same
// directory, so readers never see a partial dataset.
func writeFile(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// relativeKey strips the configured prefix from a remote key.
func relativeKey(prefix, key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

// remoteKey prepends the configured prefix to a dataset key.
func remoteKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// listing collects the dataset objects of one List call. Keys outside the
// dataset file types are ignored and prefixes are stripped.
type listing struct {
	prefix  string
	objects []output.StorageObject
}

func (l *listing) add(key string, size int64, modified *time.Time, etag string) {
	if !domain.IsDatasetFile(key) {
		return
	}
	obj := output.StorageObject{
		Key:  relativeKey(l.prefix, key),
		Size: size,
		ETag: strings.Trim(etag, `"`),
	}
	if modified != nil {
		obj.LastModified = modified.Unix()
	}
	l.objects = append(l.objects, obj)
}

func storageError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}
