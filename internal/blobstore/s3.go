package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"blockmail/internal/mail"
)

// S3Config locates the bucket that holds payloads. Endpoint is only set for
// S3-compatible services and switches the client to path-style addressing.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type s3Reader interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store keeps each payload as the object <prefix>/<cid>.
type S3Store struct {
	reader   s3Reader
	uploader s3Uploader
	bucket   string
	prefix   string
}

// NewS3Store loads the default AWS configuration, overridden by cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 blob store requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, manager.NewUploader(client), cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(reader s3Reader, uploader s3Uploader, bucket, prefix string) *S3Store {
	return &S3Store{reader: reader, uploader: uploader, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(contentID string) string {
	if s.prefix == "" {
		return contentID
	}
	return path.Join(s.prefix, contentID)
}

func (s *S3Store) Upload(ctx context.Context, payload []byte) (string, error) {
	id, err := ContentID(payload)
	if err != nil {
		return "", err
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", mail.BlobUnavailable("upload", err)
	}
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, contentID string) ([]byte, error) {
	if _, err := ParseContentID(contentID); err != nil {
		return nil, err
	}

	out, err := s.reader.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(contentID)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, mail.BlobUnavailable("get", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, mail.BlobUnavailable("get", err)
	}
	if err := Verify(contentID, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *S3Store) Close() error { return nil }

var _ mail.BlobStore = (*S3Store)(nil)
