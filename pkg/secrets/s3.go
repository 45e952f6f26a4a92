package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// S3Config configures the S3 secrets backend. Endpoint and path style
// options exist for MinIO and other S3-compatible stores.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// RequestTimeout bounds each S3 call. Defaults to 10s.
	RequestTimeout time.Duration
}

// S3Backend stores encrypted secret values as S3 objects under a key
// prefix. No package state is held across network calls, so concurrent
// use is safe without locking.
type S3Backend struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
	log     *logrus.Entry
}

// NewS3Backend builds the AWS client. Static credentials are used when
// both keys are set; otherwise the default credential chain applies.
func NewS3Backend(ctx context.Context, cfg S3Config, logger *logrus.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Backend{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  prefix,
		timeout: cfg.RequestTimeout,
		log:     logger.WithField("component", "secrets-s3"),
	}, nil
}

func (b *S3Backend) key(name string) string {
	return b.prefix + name
}

func (b *S3Backend) Get(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		b.log.WithError(err).WithField("secret", name).Error("s3 get failed")
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		b.log.WithError(err).WithField("secret", name).Error("s3 read failed")
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return string(data), nil
}

func (b *S3Backend) Set(ctx context.Context, name, value string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(name)),
		Body:        strings.NewReader(value),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		b.log.WithError(err).WithField("secret", name).Error("s3 put failed")
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (b *S3Backend) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		b.log.WithError(err).WithField("secret", name).Error("s3 delete failed")
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var names []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			b.log.WithError(err).Error("s3 list failed")
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			names = append(names, strings.TrimPrefix(*obj.Key, b.prefix))
		}
	}
	return names, nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
