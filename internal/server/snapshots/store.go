// Package snapshots archives the raw upstream payload of every successful
// sync in object storage (S3 or an S3-compatible server such as MinIO).
package snapshots

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Store saves a snapshot and returns its object key.
type Store interface {
	Save(ctx context.Context, body []byte) (string, error)
}

// Noop is the Store used when no bucket is configured.
type Noop struct{}

func (Noop) Save(context.Context, []byte) (string, error) { return "", nil }

// Options locate the bucket. Empty AccessKey falls back to the default AWS
// credential chain; a BaseEndpoint switches to path-style addressing.
type Options struct {
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) objectPutter {
		return s3.NewFromConfig(cfg, optFns...)
	}

	now = time.Now
)

// S3Store writes snapshots to one bucket.
type S3Store struct {
	bucket string
	client objectPutter
}

func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{bucket: opts.Bucket, client: client}, nil
}

// StorageKey returns a unique, date-partitioned object key.
func StorageKey(t time.Time) string {
	return fmt.Sprintf("snapshots/%d/%d/%d/%v.json", t.Year(), t.Month(), t.Day(), uuid.New())
}

func (s *S3Store) Save(ctx context.Context, body []byte) (string, error) {
	key := StorageKey(now())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return key, nil
}
