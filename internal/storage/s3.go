package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dashclip/dashclip-agent/internal/logging"
)

// S3Config configures the S3 backend. Credentials come from the default
// AWS chain (environment, shared config, instance role).
type S3Config struct {
	Bucket string
	Region string
	// Endpoint points the client at an S3-compatible store such as MinIO.
	// Path-style addressing is used whenever it is set.
	Endpoint string
}

// s3API is the subset of *s3.Client the backend uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 stores objects in a single bucket, keyed by object path.
type S3 struct {
	client s3API
	bucket string
	logger *slog.Logger
}

// NewS3 loads the AWS configuration and creates a client.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 storage requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3WithClient(client, cfg.Bucket, logger), nil
}

func newS3WithClient(client s3API, bucket string, logger *slog.Logger) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		logger: logging.WithComponent(logging.OrDiscard(logger), "storage.s3"),
	}
}

func (s *S3) Download(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.bucket, key)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3) Upload(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	s.logger.Debug("object stored", "bucket", s.bucket, "key", key, "bytes", size)
	return nil
}
