package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jobrunner/geosource/internal/ports/output"
)

// HTTPConfig holds HTTP storage configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string // default: index.txt
	Timeout   time.Duration
	Username  string
	Password  string
}

// HTTPStorage reads datasets from a web server. The index file lists one
// dataset per line, optionally followed by a version string such as a
// checksum; a changed version triggers a new download. Lines starting with
// # are comments.
type HTTPStorage struct {
	client    *http.Client
	baseURL   string
	indexFile string
	username  string
	password  string
}

// NewHTTPStorage creates an HTTP backend.
func NewHTTPStorage(cfg HTTPConfig) *HTTPStorage {
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.txt"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &HTTPStorage{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		indexFile: cfg.IndexFile,
		username:  cfg.Username,
		password:  cfg.Password,
	}
}

// List reads the index file.
func (s *HTTPStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	body, err := s.get(ctx, s.indexFile)
	if err != nil {
		return nil, storageError("list", s.indexFile, err)
	}
	defer func() { _ = body.Close() }()

	objects, err := parseIndex(body)
	return objects, storageError("list", s.indexFile, err)
}

func parseIndex(r io.Reader) ([]output.StorageObject, error) {
	var found listing

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := append(strings.Fields(line), "")
		found.add(fields[0], 0, nil, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}
	return found.objects, nil
}

// Download fetches a dataset into dest.
func (s *HTTPStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.get(ctx, key)
	if err != nil {
		return storageError("download", key, err)
	}
	defer func() { _ = body.Close() }()

	return storageError("download", key, writeFile(dest, body))
}

func (s *HTTPStorage) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+path, nil)
	if err != nil {
		return nil, err
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}
