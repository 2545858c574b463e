// Package archive stores raw feed payloads in S3-compatible storage so a
// failed or surprising import can be replayed and inspected. When no bucket
// is configured the NoopArchiver is used and nothing is written.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/linkedevents/internal/config"
)

// Archiver keeps a copy of fetched feed payloads.
type Archiver interface {
	// Archive stores body under the source's prefix and returns the object key.
	Archive(ctx context.Context, source, name, contentType string, body []byte) (string, error)
}

// s3Client is the subset of *minio.Client the archiver uses.
type s3Client interface {
	PutObject(ctx context.Context, bucket, objectName string, body []byte, contentType string) error
}

type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, objectName string, body []byte, contentType string) error {
	_, err := w.client.PutObject(ctx, bucket, objectName, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// S3Archiver writes payloads to a bucket.
type S3Archiver struct {
	client s3Client
	bucket string
	prefix string
	now    func() time.Time
}

// Archive uploads body.
func (a *S3Archiver) Archive(ctx context.Context, source, name, contentType string, body []byte) (string, error) {
	key := objectKey(a.prefix, source, name, a.now())
	if err := a.client.PutObject(ctx, a.bucket, key, body, contentType); err != nil {
		return "", fmt.Errorf("archive %s payload: %w", source, err)
	}
	return key, nil
}

// NoopArchiver is used when archiving is not configured.
type NoopArchiver struct{}

// Archive does nothing.
func (NoopArchiver) Archive(context.Context, string, string, string, []byte) (string, error) {
	return "", nil
}

// New creates the Archiver for cfg: NoopArchiver when the bucket is empty,
// S3Archiver otherwise.
func New(cfg config.ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return NoopArchiver{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Archiver{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}

// objectKey lays payloads out by source and UTC day:
// {prefix}/{source}/2006/01/02/150405.000000000-{name}
func objectKey(prefix, source, name string, at time.Time) string {
	at = at.UTC()
	return path.Join(prefix, source, at.Format("2006/01/02"), at.Format("150405.000000000")+"-"+path.Base(name))
}
