package filestore

import (
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

// S3Store archives files in one bucket, under an optional key prefix.
type S3Store struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

var _ core.FileStore = (*S3Store)(nil)

func NewS3Store(conf core.StorageConfig) (*S3Store, error) {
	awsConf := &aws.Config{Region: aws.String(conf.Region)}
	if conf.AccessKey != "" {
		awsConf.Credentials = credentials.NewStaticCredentials(conf.AccessKey, conf.SecretKey, "")
	}
	if conf.Endpoint != "" {
		// S3 compatible servers (minio)
		awsConf.Endpoint = aws.String(conf.Endpoint)
		awsConf.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	client := s3.New(sess)
	return &S3Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   conf.Bucket,
		prefix:   conf.Prefix,
	}, nil
}

func (s *S3Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	in := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   r,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, in); err != nil {
		return errors.Wrapf(err, "uploading %s", key)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, core.ErrFileNotFound
		}
		return nil, errors.Wrapf(err, "downloading %s", key)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return core.ErrFileNotFound
		}
		return errors.Wrapf(err, "deleting %s", key)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}
