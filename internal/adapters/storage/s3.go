package storage

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jobrunner/geosource/internal/domain"
	"github.com/jobrunner/geosource/internal/ports/output"
)

// S3Config holds S3 configuration. Endpoint selects an S3 compatible
// service such as MinIO and switches to path-style addressing.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Storage reads datasets from an S3 bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Storage creates an S3 backend. Credentials fall back to the default
// AWS chain when no static keys are configured.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, &domain.ConfigError{Field: "storage.s3.bucket", Message: "bucket is required"}
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// List returns the dataset objects below the prefix.
func (s *S3Storage) List(ctx context.Context) ([]output.StorageObject, error) {
	found := listing{prefix: s.prefix}
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, storageError("list", s.bucket, err)
		}
		for _, obj := range page.Contents {
			found.add(aws.ToString(obj.Key), aws.ToInt64(obj.Size), obj.LastModified, aws.ToString(obj.ETag))
		}
	}
	return found.objects, nil
}

// Download fetches an object into dest.
func (s *S3Storage) Download(ctx context.Context, key string, dest string) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remoteKey(s.prefix, key)),
	})
	if err != nil {
		return storageError("download", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return storageError("download", key, writeFile(dest, resp.Body))
}
