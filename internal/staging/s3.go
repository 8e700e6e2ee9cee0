// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/crim-ca/weaver-sub003/internal/config"
)

// MediaTypeDirectory marks a zero-byte object acting as a directory
// placeholder in listings.
const MediaTypeDirectory = "application/directory"

// S3Backend mirrors staged results into an object store and resolves
// s3:// input references.
type S3Backend struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
}

// NewS3Backend builds the backend from configuration. Returns nil when no
// bucket is configured.
func NewS3Backend(ctx context.Context, cfg config.S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Backend{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     cfg.Bucket,
	}, nil
}

// Bucket returns the configured bucket name.
func (b *S3Backend) Bucket() string { return b.bucket }

// Upload stores a local file under the given key and returns its s3 URL.
func (b *S3Backend) Upload(ctx context.Context, key, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for upload: %w", path, err)
	}
	defer f.Close()

	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", b.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
}

// UploadDirMarker writes the zero-byte directory placeholder object so the
// prefix shows up in bucket listings. Re-running for the same key is a no-op
// server side.
func (b *S3Backend) UploadDirMarker(ctx context.Context, key string) error {
	key = strings.TrimSuffix(key, "/") + "/"
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(""),
		ContentType: aws.String(MediaTypeDirectory),
	})
	if err != nil {
		return fmt.Errorf("failed to write directory marker s3://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

// Download fetches a single object to a local file.
func (b *S3Backend) Download(ctx context.Context, bucket, key, dest string) error {
	if bucket == "" {
		bucket = b.bucket
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = b.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// DownloadPrefix fetches every object under a prefix, preserving the
// relative layout below destDir. Directory marker objects are skipped.
func (b *S3Backend) DownloadPrefix(ctx context.Context, bucket, prefix, destDir string) error {
	if bucket == "" {
		bucket = b.bucket
	}
	prefix = strings.TrimSuffix(prefix, "/") + "/"

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	found := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			found = true
			rel := strings.TrimPrefix(key, prefix)
			if err := b.Download(ctx, bucket, key, filepath.Join(destDir, filepath.FromSlash(rel))); err != nil {
				return err
			}
		}
	}
	if !found {
		return fmt.Errorf("no objects under s3://%s/%s", bucket, prefix)
	}
	return nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(href string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(href, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URL: %s", href)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 URL: %s", href)
	}
	return bucket, key, nil
}
