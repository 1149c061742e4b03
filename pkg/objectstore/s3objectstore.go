package objectstore

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3ObjectStore stores objects in one S3 bucket.
type S3ObjectStore struct {
	Client s3iface.S3API
	Bucket string
}

// NewS3ObjectStore builds a store from the default AWS credential chain.
// A non-empty `endpoint` selects an S3-compatible service (e.g., minio).
func NewS3ObjectStore(bucket, region, endpoint string) (*S3ObjectStore, error) {
	config := aws.NewConfig()
	if region != "" {
		config = config.WithRegion(region)
	}
	if endpoint != "" {
		config = config.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return &S3ObjectStore{Client: s3.New(sess), Bucket: bucket}, nil
}

func (os *S3ObjectStore) PutObject(key string, data io.ReadSeeker) error {
	if _, err := os.Client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(os.Bucket),
		Key:    aws.String(key),
		Body:   data,
	}); err != nil {
		return fmt.Errorf(
			"putting object in bucket `%s` at key `%s`: %w",
			os.Bucket,
			key,
			err,
		)
	}
	return nil
}

func (os *S3ObjectStore) GetObject(key string) (io.ReadCloser, error) {
	rsp, err := os.Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(os.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &ObjectNotFoundErr{Bucket: os.Bucket, Key: key}
		}
		return nil, fmt.Errorf(
			"getting object from bucket `%s` at key `%s`: %w",
			os.Bucket,
			key,
			err,
		)
	}
	return rsp.Body, nil
}

// ListObjects returns the keys under `prefix` in lexical order.
func (os *S3ObjectStore) ListObjects(prefix string) ([]string, error) {
	var keys []string
	if err := os.Client.ListObjectsV2Pages(
		&s3.ListObjectsV2Input{
			Bucket: aws.String(os.Bucket),
			Prefix: aws.String(prefix),
		},
		func(rsp *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, object := range rsp.Contents {
				keys = append(keys, aws.StringValue(object.Key))
			}
			return true
		},
	); err != nil {
		return nil, fmt.Errorf(
			"listing objects in bucket `%s` with prefix `%s`: %w",
			os.Bucket,
			prefix,
			err,
		)
	}
	sort.Strings(keys)
	return keys, nil
}

func (os *S3ObjectStore) DeleteObject(key string) error {
	if _, err := os.Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(os.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf(
			"deleting object from bucket `%s` at key `%s`: %w",
			os.Bucket,
			key,
			err,
		)
	}
	return nil
}

func isNotFound(err error) bool {
	var awsErr awserr.Error
	if !errors.As(err, &awsErr) {
		return false
	}
	switch awsErr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
