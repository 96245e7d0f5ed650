package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinioExporter - S3 호환 오브젝트 스토리지 업로드
type MinioExporter struct {
	client *minio.Client
	bucket string
	log    zerolog.Logger
}

func NewMinioExporter(endpoint, accessKey, secretKey, bucket string, secure bool, log zerolog.Logger) (*MinioExporter, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init Minio client: %w", err)
	}
	return &MinioExporter{
		client: client,
		bucket: bucket,
		log:    log.With().Str("component", "storage").Str("backend", "minio").Logger(),
	}, nil
}

// EnsureBucket - 버킷이 없으면 생성
func (e *MinioExporter) EnsureBucket(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", e.bucket, err)
	}
	if exists {
		return nil
	}
	if err := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", e.bucket, err)
	}
	e.log.Info().Str("bucket", e.bucket).Msg("🪣 Bucket created")
	return nil
}

func (e *MinioExporter) Export(ctx context.Context, key string, data []byte, contentType string) (*Location, error) {
	info, err := e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("failed to put object %s: %w", key, err)
	}
	e.log.Info().Str("key", key).Int64("size", info.Size).Msg("✅ Object uploaded")
	return &Location{Backend: "minio", Path: e.bucket + "/" + key, Size: info.Size}, nil
}
