package storage

import (
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"video-restore/apperrors"
)

type MinIO struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinIO stores objects in bucket. publicURL is the externally reachable
// base (scheme://host[/path]); empty means the client's own endpoint.
func NewMinIO(client *minio.Client, bucket, publicURL string) *MinIO {
	if publicURL == "" {
		publicURL = client.EndpointURL().String()
	}
	return &MinIO{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

func (m *MinIO) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key = cleanKey(key)
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to upload object")
		return "", apperrors.Wrap(apperrors.ErrStorageUnavailable, "minio.put", err)
	}
	return m.PublicURL(key), nil
}

func (m *MinIO) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	key = cleanKey(key)
	// GetObject is lazy; Stat surfaces a missing key before any bytes are read.
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.classify("minio.get", key, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, m.classify("minio.get", key, err)
	}
	return obj, nil
}

func (m *MinIO) PublicURL(key string) string {
	return m.publicURL + "/" + m.bucket + "/" + cleanKey(key)
}

func (m *MinIO) classify(op, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return apperrors.Wrap(apperrors.ErrObjectNotFound, op, err)
	}
	return apperrors.Wrap(apperrors.ErrStorageUnavailable, op, err)
}
