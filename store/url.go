package store

import (
	"context"
	"fmt"
	"strings"
)

// Open builds a BlobStore from a PRIMARY configuration value of the form
// s3://bucket/prefix or gs://bucket/prefix, selecting the backend by
// scheme. It is the sole place PRIMARY's scheme prefix is interpreted.
func Open(ctx context.Context, primary string) (BlobStore, error) {
	switch {
	case strings.HasPrefix(primary, "s3://"):
		bucket, prefix := splitBucketPrefix(primary[len("s3://"):])
		return NewS3(bucket, prefix)
	case strings.HasPrefix(primary, "gs://"):
		bucket, prefix := splitBucketPrefix(primary[len("gs://"):])
		return NewGCS(ctx, bucket, prefix)
	default:
		return nil, fmt.Errorf("store: unrecognized PRIMARY scheme in %q", primary)
	}
}

func splitBucketPrefix(rest string) (bucket, prefix string) {
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return rest, ""
	}
	return rest[:i], rest[i+1:]
}
