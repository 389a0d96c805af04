package storage

import (
	"context"
	"io"
	"net/url"
	"strings"
)

// BlobStore is the durable object store that published HLS files live in.
type BlobStore interface {
	// Put stores body under key.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// PublicURL returns the stable URL a player can fetch key from.
	PublicURL(ctx context.Context, key string) (string, error)
	// List returns every key beginning with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// joinURL appends an object key to base, escaping each path segment.
func joinURL(base, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
