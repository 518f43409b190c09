package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
)

// UploadAttempts bounds the retry loop for one file.
const UploadAttempts = 5

// uploadInitialBackoff is the first retry wait; overridden in tests.
var uploadInitialBackoff = time.Second

// Uploader ships a finalized local file to object storage.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
	Bucket() string
}

// S3Uploader uploads finalized files to an S3 bucket.
type S3Uploader struct {
	bucket string
	client *s3.Client
}

// NewS3Uploader creates an uploader using the ambient AWS credential chain.
func NewS3Uploader(ctx context.Context, bucket string) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Uploader{
		bucket: bucket,
		client: s3.NewFromConfig(cfg),
	}, nil
}

// Bucket returns the destination bucket name.
func (u *S3Uploader) Bucket() string {
	return u.bucket
}

// Upload puts one local file under the given key.
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}

// uploadWithRetry attempts an upload up to UploadAttempts times with
// exponential backoff capped at 30s.
func uploadWithRetry(ctx context.Context, up Uploader, localPath, key string, logger *slog.Logger) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = uploadInitialBackoff
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		if err := up.Upload(ctx, localPath, key); err != nil {
			logger.Warn("upload failed",
				"attempt", attempt,
				"key", key,
				"error", err,
			)
			return err
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, UploadAttempts-1), ctx))
}
