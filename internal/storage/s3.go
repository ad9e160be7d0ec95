package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Provider struct {
	client *s3.Client
	bucket string
	log    *slog.Logger
}

func NewS3Provider(client *s3.Client, bucket string, log *slog.Logger) *S3Provider {
	if log == nil {
		log = slog.Default()
	}
	return &S3Provider{client: client, bucket: bucket, log: log}
}

// S3Options configures NewS3Client. Credentials come from AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
type S3Options struct {
	Region    string
	Endpoint  string
	PathStyle bool
}

// NewS3Client builds a client for AWS or an S3-compatible endpoint.
func NewS3Client(opts S3Options) *s3.Client {
	creds := aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	}))
	return s3.New(s3.Options{
		Region:       opts.Region,
		Credentials:  creds,
		UsePathStyle: opts.PathStyle,
		BaseEndpoint: stringOrNil(opts.Endpoint),
	})
}

func stringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// StreamToFile uploads through a pipe in 10MB multipart chunks.
func (p *S3Provider) StreamToFile(ctx context.Context, key string) (io.WriteCloser, <-chan error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, failed(fmt.Errorf("%w: %q", err, key))
	}

	reader, writer := io.Pipe()
	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)

		uploader := manager.NewUploader(p.client, func(u *manager.Uploader) {
			u.PartSize = 10 * 1024 * 1024
			u.Concurrency = 5
		})

		p.log.Info("Starting S3 upload", "bucket", p.bucket, "key", cleaned)
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(cleaned),
			Body:   reader,
		})
		// Unblock the writer if the upload gave up early.
		_ = reader.CloseWithError(err)

		if err != nil {
			p.log.Error("S3 upload failed", "key", cleaned, "error", err)
			errChan <- fmt.Errorf("s3 upload failed: %w", err)
			return
		}
		p.log.Info("S3 upload finished", "key", cleaned)
		errChan <- nil
	}()

	return writer, errChan
}

func (p *S3Provider) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s: %w", key, err)
	}
	return out.Body, nil
}

func (p *S3Provider) GetDownloadURL(key string) string {
	return fmt.Sprintf("s3://%s/%s", p.bucket, key)
}
