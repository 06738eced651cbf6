package store

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// s3Store mirrors objects out of a single S3 bucket, addressed as
// s3://bucket/prefix in the PRIMARY configuration value.
type s3Store struct {
	svc    *s3.S3
	bucket string
	prefix string
}

// NewS3 builds a BlobStore over bucket, with every key prefixed by prefix
// before being sent to S3. Credentials and region are taken from the
// process environment via the default AWS session chain.
func NewS3(bucket, prefix string) (BlobStore, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, err
	}
	return &s3Store{svc: s3.New(sess), bucket: bucket, prefix: prefix}, nil
}

func (s *s3Store) key(k string) string {
	return strings.TrimPrefix(strings.TrimSuffix(s.prefix, "/")+"/"+strings.TrimPrefix(k, "/"), "/")
}

func (s *s3Store) Stat(ctx context.Context, key string) (Info, error) {
	out, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return Info{}, mapS3Error(err)
	}
	info := Info{Length: -1}
	if out.ContentLength != nil {
		info.Length = *out.ContentLength
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	} else {
		info.LastModified = time.Unix(0, 0)
	}
	if out.ETag != nil {
		info.Tag = strings.Trim(*out.ETag, `"`)
	}
	return info, nil
}

func (s *s3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return nil, mapS3Error(err)
	}
	return out.Body, nil
}

func mapS3Error(err error) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound", "NoSuchKey":
			return ErrNotFound
		}
	}
	return err
}
