// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"

	"proof-badge-system/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Archive stores badge metadata documents in a Cloudflare R2 bucket.
type R2Archive struct {
	client     *s3.Client
	bucket     string
	cdnBaseURL string
}

func NewR2Archive(ctx context.Context, cfg config.ArchiveConfig) (*R2Archive, error) {
	if cfg.R2AccountID == "" || cfg.R2Bucket == "" {
		return nil, fmt.Errorf("R2 archive needs CLOUDFLARE_ACCOUNT_ID and R2_BUCKET_NAME")
	}
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID)
	cdnBaseURL := cfg.CDNBaseURL
	if cdnBaseURL == "" {
		cdnBaseURL = endpoint + "/" + cfg.R2Bucket
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.R2AccessKey, cfg.R2SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &R2Archive{client: client, bucket: cfg.R2Bucket, cdnBaseURL: cdnBaseURL}, nil
}

// Put uploads body under key and returns its public URL.
func (a *R2Archive) Put(ctx context.Context, key string, body []byte) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("%s/%s", a.cdnBaseURL, key), nil
}
