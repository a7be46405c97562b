package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 stores archives as objects under a bucket prefix
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3 uploader using the default credential chain.
// A non-empty Endpoint selects an S3-compatible service with path-style addressing
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries+1))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (u *S3) Name() string { return "s3" }

// Key returns the object key used for a local file
func (u *S3) Key(file string) string {
	return path.Join(u.prefix, filepath.Base(file))
}

func (u *S3) Upload(ctx context.Context, file string, meta Metadata) (*Result, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", file, err)
	}

	start := time.Now()
	key := u.Key(file)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/zip"),
		Metadata: map[string]string{
			"session-id": meta.SessionID,
			"started-at": meta.StartedAt.Format(time.RFC3339),
			"stopped-at": meta.StoppedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put s3://%s/%s: %w", u.bucket, key, err)
	}

	return &Result{
		Location: fmt.Sprintf("s3://%s/%s", u.bucket, key),
		Bytes:    info.Size(),
		Attempts: 1,
		Duration: time.Since(start),
	}, nil
}
