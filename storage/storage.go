// Package storage is the object-storage capability: put bytes under a key and
// get a public URL back, or stream an object out again.
package storage

import (
	"context"
	"io"
	"strings"
)

type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	PublicURL(key string) string
}

// cleanKey normalises a key to forward slashes without a leading slash.
func cleanKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	return strings.TrimLeft(key, "/")
}
