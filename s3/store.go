// Package s3 provides an attachment backend on top of an S3-compatible
// object store, including real presigned direct-upload URLs.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/hoistd/hoist"
)

// Store is an S3-backed hoist.Backend. Objects live under prefix+id.
type Store struct {
	client    *awss3.Client
	presigner *awss3.PresignClient
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// New creates a Store over an existing S3 client.
func New(client *awss3.Client, bucket, prefix string) *Store {
	return &Store{
		client:    client,
		presigner: awss3.NewPresignClient(client),
		bucket:    bucket,
		prefix:    prefix,
		urlExpiry: 15 * time.Minute,
	}
}

// NewFromConfig builds the S3 client from the default AWS credential chain.
func NewFromConfig(ctx context.Context, region, bucket, prefix string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(awss3.NewFromConfig(cfg), bucket, prefix), nil
}

// WithURLExpiry sets how long presigned upload URLs stay valid.
func (s *Store) WithURLExpiry(d time.Duration) *Store {
	s.urlExpiry = d
	return s
}

// Get streams the object stored under id. Returns hoist.ErrNotFound when
// the key does not exist.
func (s *Store) Get(ctx context.Context, id string) (hoist.File, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + id),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, hoist.ErrNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", id, err)
	}

	return out.Body, nil
}

// Upload stores content under a fresh uuid and returns it.
func (s *Store) Upload(ctx context.Context, content io.Reader) (string, error) {
	id := uuid.New().String()

	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + id),
		Body:   content,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return id, nil
}

// Presign returns a presigned PUT the client can upload to directly. The id
// in the payload is the one the object will be retrievable under.
func (s *Store) Presign(ctx context.Context) (*hoist.Presigned, error) {
	id := uuid.New().String()

	req, err := s.presigner.PresignPutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + id),
	}, awss3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign put object: %w", err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for name, values := range req.SignedHeader {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	return &hoist.Presigned{
		ID:      id,
		URL:     req.URL,
		Method:  req.Method,
		Headers: headers,
	}, nil
}
