package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
)

// MinIOStore keeps snapshots in an S3-compatible bucket and serves them
// through presigned, expiring read URLs.
type MinIOStore struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
	logger    *zap.Logger
}

// NewMinIOStore connects and ensures the bucket exists.
func NewMinIOStore(cfg config.SnapshotConfig, logger *zap.Logger) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		logger.Info("created snapshot bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinIOStore{
		client:    client,
		bucket:    cfg.Bucket,
		urlExpiry: cfg.URLExpiry,
		logger:    logger.Named("snapshot-minio"),
	}, nil
}

func objectKey(userID, eventID string) string {
	return fmt.Sprintf("users/%s/falls/%s.jpg", userID, eventID)
}

// Save uploads the JPEG with a bounded retry and returns a presigned
// read URL. Snapshots are small, so the whole body is retried rather
// than resumed.
func (s *MinIOStore) Save(ctx context.Context, userID, eventID string, jpeg []byte) (string, error) {
	key := objectKey(userID, eventID)

	upload := func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key,
			bytes.NewReader(jpeg), int64(len(jpeg)),
			minio.PutObjectOptions{ContentType: "image/jpeg"})
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(upload, backoff.WithContext(bo, ctx)); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign snapshot url: %w", err)
	}

	s.logger.Info("snapshot uploaded",
		zap.String("key", key), zap.Int("bytes", len(jpeg)))
	return url.String(), nil
}

func (s *MinIOStore) Delete(ctx context.Context, userID, eventID string) error {
	key := objectKey(userID, eventID)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
