package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectGetter is the slice of the S3 client the fetcher needs
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Storage struct {
	client objectGetter
}

// NewS3Storage creates a fetcher for s3://bucket/key URLs using the default
// AWS credential chain. An empty region defers to the environment.
func NewS3Storage(ctx context.Context, region string) (SheetFetcher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &s3Storage{client: s3.NewFromConfig(cfg)}, nil
}

func parseS3URL(objectURL string) (bucket, key string, err error) {
	parsedURL, err := url.Parse(objectURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL: %w", err)
	}
	if parsedURL.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid S3 URL scheme %q", parsedURL.Scheme)
	}
	bucket = parsedURL.Host
	key = strings.TrimPrefix(parsedURL.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 URL needs a bucket and key: %s", objectURL)
	}
	return bucket, key, nil
}

func (s *s3Storage) FetchSheet(ctx context.Context, objectURL string) ([]byte, error) {
	bucket, key, err := parseS3URL(objectURL)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	return readLimited(result.Body)
}
