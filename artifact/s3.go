package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/pithecene-io/joblog/types"
)

// S3Config configures S3 artifact storage.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint for S3-compatible providers (MinIO, R2).
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseBucketPath splits "bucket/prefix" or "bucket".
func ParseBucketPath(p string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(p, "/")
	return bucket, strings.Trim(prefix, "/")
}

// NewS3Client builds an S3 client from the AWS default credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3Opts...), nil
}

type s3HeadAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3PresignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store is a remote artifact store on S3. The ETag of a single-part
// upload is the content MD5, so it doubles as the remote checksum.
type S3Store struct {
	*LodeStore
	bucket  string
	head    s3HeadAPI
	presign s3PresignAPI
}

// NewS3Store connects to S3 with the default credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, wrapError("init", cfg.Bucket, err)
	}
	return NewS3StoreWithClient(client, cfg)
}

// NewS3StoreWithClient creates an S3 store on an existing client.
func NewS3StoreWithClient(client *s3.Client, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ls, err := lodes3.New(client, lodes3.Config{Bucket: cfg.Bucket})
	if err != nil {
		return nil, wrapError("init", cfg.Bucket, err)
	}
	return &S3Store{
		LodeStore: NewLodeStore(ls, types.LocationRemote, cfg.Prefix),
		bucket:    cfg.Bucket,
		head:      client,
		presign:   s3.NewPresignClient(client),
	}, nil
}

// RemoteChecksum implements RemoteChecksummer. Multipart ETags are not
// content digests and report ok=false.
func (s *S3Store) RemoteChecksum(ctx context.Context, a *types.Artifact) (string, bool, error) {
	out, err := s.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(a.Key),
	})
	if err != nil {
		return "", false, wrapError("stat", a.Key, err)
	}
	etag := etagMD5(aws.ToString(out.ETag))
	return etag, etag != "", nil
}

// SignedURL implements URLSigner with a presigned GET.
func (s *S3Store) SignedURL(ctx context.Context, a *types.Artifact, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(a.Key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", wrapError("sign", a.Key, err)
	}
	return req.URL, nil
}

// etagMD5 returns the hex MD5 carried by an ETag, or "" when the ETag is
// not a plain content digest.
func etagMD5(etag string) string {
	etag = strings.ToLower(strings.Trim(strings.TrimPrefix(etag, "W/"), `"`))
	if len(etag) != 32 {
		return ""
	}
	for _, c := range etag {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	return etag
}

var (
	_ Store             = (*S3Store)(nil)
	_ RemoteChecksummer = (*S3Store)(nil)
	_ URLSigner         = (*S3Store)(nil)
)
