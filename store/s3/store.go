// Package s3 backs the workspace with an S3 bucket. Uploads go through
// the transfer manager so large matrices are sent multipart.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

func NewStore(client *awss3.Client, bucket string) *Store {
	return &Store{
		bucket:   bucket,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

type Store struct {
	bucket   string
	client   *awss3.Client
	uploader *manager.Uploader
}

func (s *Store) Upload(ctx context.Context, key string, r io.Reader) error {
	_, err := s.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}
