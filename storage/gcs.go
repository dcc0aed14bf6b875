package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"

	"video-restore/apperrors"
)

const gcsPublicBase = "https://storage.googleapis.com"

type GCS struct {
	client *gcs.Client
	bucket string
}

func NewGCS(client *gcs.Client, bucket string) *GCS {
	return &GCS{client: client, bucket: bucket}
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key = cleanKey(key)
	wc := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := io.Copy(wc, r); err != nil {
		_ = wc.Close()
		return "", apperrors.Wrap(apperrors.ErrStorageUnavailable, "gcs.put", fmt.Errorf("io.Copy: %w", err))
	}
	if err := wc.Close(); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorageUnavailable, "gcs.put", fmt.Errorf("Writer.Close: %w", err))
	}
	return g.PublicURL(key), nil
}

func (g *GCS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.client.Bucket(g.bucket).Object(cleanKey(key)).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return nil, apperrors.Wrap(apperrors.ErrObjectNotFound, "gcs.get", err)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "gcs.get", err)
	}
	return rc, nil
}

func (g *GCS) PublicURL(key string) string {
	return gcsPublicBase + "/" + g.bucket + "/" + cleanKey(key)
}
