package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// AzureConfig holds Azure Blob Storage configuration. A connection string
// takes precedence over account name and key.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

// AzureStorage reads datasets from an Azure Blob Storage container.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureStorage creates an Azure backend.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	if cfg.Container == "" {
		return nil, &domain.ConfigError{Field: "storage.azure.container", Message: "container is required"}
	}

	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AzureStorage{client: client, container: cfg.Container, prefix: cfg.Prefix}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	serviceURL := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
}

// List returns the dataset blobs below the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	found := listing{prefix: s.prefix}
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &s.prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, storageError("list", s.container, err)
		}
		for _, blob := range page.Segment.BlobItems {
			addBlob(&found, blob)
		}
	}
	return found.objects, nil
}

func addBlob(found *listing, blob *container.BlobItem) {
	if blob.Name == nil {
		return
	}
	var (
		size     int64
		modified *time.Time
		etag     string
	)
	if p := blob.Properties; p != nil {
		if p.ContentLength != nil {
			size = *p.ContentLength
		}
		modified = p.LastModified
		if p.ETag != nil {
			etag = string(*p.ETag)
		}
	}
	found.add(*blob.Name, size, modified, etag)
}

// Download fetches a blob into dest.
func (s *AzureStorage) Download(ctx context.Context, key string, dest string) error {
	resp, err := s.client.DownloadStream(ctx, s.container, remoteKey(s.prefix, key), nil)
	if err != nil {
		return storageError("download", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return storageError("download", key, writeFile(dest, resp.Body))
}
