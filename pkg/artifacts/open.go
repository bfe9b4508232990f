package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Open builds a Store from a location URL:
//
//	file:///var/lib/yai/exports  (or a bare path)
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000
//	gs://bucket/prefix           (requires the gcp build tag)
func Open(ctx context.Context, location string) (Store, error) {
	if location == "" {
		return nil, fmt.Errorf("artifacts: empty location")
	}
	if !strings.Contains(location, "://") {
		return NewFileStore(filepath.Clean(location))
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("artifacts: parse location: %w", err)
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	switch u.Scheme {
	case "file":
		return NewFileStore(filepath.Join(u.Host, u.Path))
	case "s3":
		q := u.Query()
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   u.Host,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
			Prefix:   prefix,
		})
	case "gs":
		return openGCS(ctx, u.Host, prefix)
	default:
		return nil, fmt.Errorf("artifacts: unsupported scheme %q", u.Scheme)
	}
}
