package domain

import (
	"path/filepath"
	"strings"
)

// DatasetExtensions lists the file types synchronized from object storage.
var DatasetExtensions = []string{".sqlite", ".db", ".json", ".ndjson"}

// IsDatasetFile returns true if the key names a supported dataset file.
func IsDatasetFile(key string) bool {
	ext := strings.ToLower(filepath.Ext(key))
	for _, e := range DatasetExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
