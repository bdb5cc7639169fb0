package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dietbot/entitlement/pkg/usage"
)

// S3Client is the subset of *s3.Client the archiver uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config configures the S3 archiver. Credentials fall back to the default
// AWS chain when the key pair is empty.
type S3Config struct {
	Bucket         string `env:"ARCHIVE_S3_BUCKET"`
	Region         string `env:"ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"ARCHIVE_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"ARCHIVE_S3_SECRET_KEY"`
	Endpoint       string `env:"ARCHIVE_S3_ENDPOINT"`
	ForcePathStyle bool   `env:"ARCHIVE_S3_FORCE_PATH_STYLE"`
	Prefix         string `env:"ARCHIVE_S3_PREFIX" envDefault:"archive"`
}

// Enabled reports whether a bucket is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type S3Option func(*s3Options)

type s3Options struct {
	client     S3Client
	httpClient *http.Client
}

// WithS3Client uses a pre-built client instead of loading the AWS config.
func WithS3Client(c S3Client) S3Option {
	return func(o *s3Options) { o.client = c }
}

func WithHTTPClient(c *http.Client) S3Option {
	return func(o *s3Options) { o.httpClient = c }
}

// S3Archiver implements usage.Archiver on S3. It is safe for concurrent use.
type S3Archiver struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Archiver, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("%w: bucket and region are required", ErrInvalidConfig)
	}
	o := &s3Options{}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		awsOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOpts = append(awsOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		if o.httpClient != nil {
			awsOpts = append(awsOpts, config.WithHTTPClient(o.httpClient))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToLoadConfig, err)
		}
		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archiver) ArchiveCounters(ctx context.Context, day string, counters []usage.Counter) error {
	if err := checkDay(day); err != nil {
		return err
	}
	data, err := encode(counters)
	if err != nil {
		return errors.Join(ErrWriteFailed, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(objectKey(a.prefix, day)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return s3Error(ErrWriteFailed, err)
	}
	return nil
}

// ReadCounters returns the counters archived for day.
func (a *S3Archiver) ReadCounters(ctx context.Context, day string) ([]usage.Counter, error) {
	if err := checkDay(day); err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey(a.prefix, day)),
	})
	if err != nil {
		return nil, s3Error(ErrReadFailed, err)
	}
	defer out.Body.Close()

	counters, err := decode(out.Body)
	if err != nil {
		return nil, errors.Join(ErrReadFailed, err)
	}
	return counters, nil
}

// Days lists archived days in ascending order.
func (a *S3Archiver) Days(ctx context.Context) ([]string, error) {
	dir := objectKey(a.prefix, "x")
	dir = dir[:len(dir)-len("x"+suffix)]

	var days []string
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(dir),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, s3Error(ErrReadFailed, err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), dir)
			if day, ok := strings.CutSuffix(name, suffix); ok && checkDay(day) == nil {
				days = append(days, day)
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	slices.Sort(days)
	return days, nil
}

func s3Error(base, err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return ErrNotFound
		case "AccessDenied":
			return errors.Join(ErrAccessDenied, err)
		}
	}
	return errors.Join(base, err)
}
