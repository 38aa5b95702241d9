package domain

import (
	"context"
	"io"
)

// BlobStore is cold object storage for archived trade history.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
