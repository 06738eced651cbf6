package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
)

// gcsStore mirrors objects out of a single GCS bucket, addressed as
// gs://bucket/prefix in the PRIMARY configuration value. It is grounded on
// the XML-API loader in the retrieved rsc-cloud google/gcs package: a plain
// authenticated *http.Client, no generated GCS client library.
type gcsStore struct {
	client *http.Client
	bucket string
	prefix string
}

// NewGCS builds a BlobStore over bucket using application-default
// credentials for read-only storage access.
func NewGCS(ctx context.Context, bucket, prefix string) (BlobStore, error) {
	client, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/devstorage.read_only")
	if err != nil {
		return nil, err
	}
	return &gcsStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *gcsStore) url(key string) string {
	k := strings.TrimSuffix(g.prefix, "/") + "/" + strings.TrimPrefix(key, "/")
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, strings.TrimPrefix(k, "/"))
}

func (g *gcsStore) Stat(ctx context.Context, key string) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.url(key), nil)
	if err != nil {
		return Info{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Info{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("store: gcs stat %s: status %s", key, resp.Status)
	}
	return Info{
		Length:       resp.ContentLength,
		LastModified: parseLastModified(resp.Header.Get("Last-Modified")),
		Tag:          strings.Trim(resp.Header.Get("Etag"), `"`),
	}, nil
}

func (g *gcsStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	body, _, _, err := g.openConditional(ctx, key, "")
	return body, err
}

func (g *gcsStore) OpenIfChanged(ctx context.Context, key, tag string) (io.ReadCloser, string, bool, error) {
	return g.openConditional(ctx, key, tag)
}

func (g *gcsStore) openConditional(ctx context.Context, key, tag string) (io.ReadCloser, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url(key), nil)
	if err != nil {
		return nil, "", false, err
	}
	if tag != "" {
		req.Header.Set("If-None-Match", `"`+tag+`"`)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", false, err
	}
	switch resp.StatusCode {
	case http.StatusNotModified:
		resp.Body.Close()
		return nil, tag, false, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, "", false, ErrNotFound
	case http.StatusOK:
		newTag := strings.Trim(resp.Header.Get("Etag"), `"`)
		return resp.Body, newTag, true, nil
	default:
		resp.Body.Close()
		return nil, "", false, fmt.Errorf("store: gcs get %s: status %s", key, resp.Status)
	}
}

func parseLastModified(v string) time.Time {
	if v == "" {
		return time.Unix(0, 0)
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Unix(0, 0)
	}
	return t
}
