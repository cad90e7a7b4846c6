package anchor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the object-store anchor. Endpoint and PathStyle are for
// S3-compatible stores such as MinIO.
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3 writes one object per hash with If-None-Match: *, so an anchor can be
// created but never overwritten.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("anchor: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewS3WithClient(client *s3.Client, bucket, prefix string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func (s *S3) key(hash string) string {
	if s.prefix == "" {
		return hash
	}
	return path.Join(s.prefix, hash)
}

func (s *S3) Record(ctx context.Context, hash string) (string, error) {
	if err := validateHash(hash); err != nil {
		return "", err
	}
	key := s.key(hash)
	ref := fmt.Sprintf("s3://%s/%s", s.bucket, key)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(hash),
		ContentType: aws.String("text/plain"),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			"recorded-at": s.now().UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		// 412: already anchored, the existing object is authoritative.
		if statusCode(err) == http.StatusPreconditionFailed {
			return ref, nil
		}
		return "", fmt.Errorf("put anchor %s: %w", key, err)
	}
	return ref, nil
}

func statusCode(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
