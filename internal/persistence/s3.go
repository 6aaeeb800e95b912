package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds connection settings for S3 or an S3-compatible store.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewS3Client builds a client. Static credentials are used when an access
// key is set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Backend stores each snapshot as an object under a key prefix.
type S3Backend struct {
	client   S3API
	bucket   string
	prefix   string
	compress bool
}

// NewS3Backend creates a backend over an existing client.
func NewS3Backend(client S3API, bucket, prefix string, compress bool) *S3Backend {
	return &S3Backend{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		compress: compress,
	}
}

// Name implements Backend.
func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) ext() string {
	if b.compress {
		return extCompressed
	}
	return extPlain
}

func (b *S3Backend) objectKey(scope Scope) string {
	return path.Join(b.prefix, scope.String()) + b.ext()
}

// Load implements Backend.
func (b *S3Backend) Load(ctx context.Context, scope Scope) (*Snapshot, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(scope)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, scope)
		}
		return nil, fmt.Errorf("%w: getting %s: %v", ErrPersistenceFailure, scope, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrPersistenceFailure, scope, err)
	}
	return Decode(data)
}

// Save implements Backend.
func (b *S3Backend) Save(ctx context.Context, s *Snapshot) error {
	data, err := Encode(s, b.compress)
	if err != nil {
		return err
	}
	contentType := "application/json"
	if b.compress {
		contentType = "application/gzip"
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.objectKey(s.Scope())),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%w: putting %s: %v", ErrPersistenceFailure, s.Scope(), err)
	}
	return nil
}

// Delete implements Backend.
func (b *S3Backend) Delete(ctx context.Context, scope Scope) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(scope)),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %v", ErrPersistenceFailure, scope, err)
	}
	return nil
}

// List pages through the prefix.
func (b *S3Backend) List(ctx context.Context) ([]Scope, error) {
	listPrefix := b.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	seen := make(map[Scope]struct{})
	pager := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(listPrefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: listing: %v", ErrPersistenceFailure, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			if !strings.HasSuffix(name, b.ext()) {
				continue
			}
			if scope, err := ParseScope(strings.TrimSuffix(name, b.ext())); err == nil {
				seen[scope] = struct{}{}
			}
		}
	}
	return sortedScopes(seen), nil
}

// Close implements Backend.
func (b *S3Backend) Close() error { return nil }
