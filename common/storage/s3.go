package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/SensibleWeather/artifact.ci/common/config"
	"github.com/SensibleWeather/artifact.ci/common/logger"
)

// ErrObjectNotFound is returned by Stat when the object does not exist
var ErrObjectNotFound = errors.New("object not found")

type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type headAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// PresignedUpload is a time-limited PUT request for one object
type PresignedUpload struct {
	URL       string
	Method    string
	Headers   http.Header
	ExpiresAt time.Time
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Pathname    string
	URL         string
	ContentType string
	Size        int64
}

// S3Store issues presigned uploads to, and inspects objects in, one bucket
type S3Store struct {
	bucket  string
	baseURL string
	presign presignAPI
	head    headAPI
	log     *logger.Logger
}

// NewS3Store builds an S3 client from configuration. Static credentials are
// used when configured, otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle || cfg.Endpoint != ""
	})

	store := NewS3StoreFromClient(client, cfg.Bucket, publicBaseURL(cfg), log)
	log.Info("object storage configured", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return store, nil
}

// NewS3StoreFromClient wraps an existing client
func NewS3StoreFromClient(client *s3.Client, bucket, baseURL string, log *logger.Logger) *S3Store {
	return &S3Store{
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		presign: s3.NewPresignClient(client),
		head:    client,
		log:     log,
	}
}

func publicBaseURL(cfg config.StorageConfig) string {
	switch {
	case cfg.PublicBaseURL != "":
		return cfg.PublicBaseURL
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

// PresignUpload signs a PUT for pathname that only accepts contentType
func (s *S3Store) PresignUpload(ctx context.Context, pathname, contentType string, ttl time.Duration) (*PresignedUpload, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(pathname),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload for %s: %w", pathname, err)
	}

	headers := req.SignedHeader.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Del("Host")
	headers.Set("Content-Type", contentType)

	return &PresignedUpload{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Stat returns metadata for a stored object, or ErrObjectNotFound
func (s *S3Store) Stat(ctx context.Context, pathname string) (*ObjectInfo, error) {
	out, err := s.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(pathname),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to head object %s: %w", pathname, err)
	}

	info := &ObjectInfo{
		Pathname: pathname,
		URL:      s.BlobURL(pathname),
	}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	return info, nil
}

// BlobURL returns the public URL an object is served from
func (s *S3Store) BlobURL(pathname string) string {
	segments := strings.Split(pathname, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}
