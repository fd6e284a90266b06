package storage

import (
	"context"
	"fmt"
)

// R2Config holds Cloudflare R2 connection configuration
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
	PublicURL       string // e.g. https://cdn.techpack.app
}

// NewR2Storage creates an S3 client pointed at the account's R2 endpoint.
func NewR2Storage(ctx context.Context, cfg R2Config) (*S3Storage, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	client, err := newS3Client(ctx, endpoint, "auto", cfg.AccessKeyID, cfg.AccessKeySecret, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		// requires a public bucket
		publicURL = fmt.Sprintf("https://%s.r2.dev", cfg.BucketName)
	}

	return &S3Storage{client: client, bucket: cfg.BucketName, publicURL: publicURL}, nil
}
