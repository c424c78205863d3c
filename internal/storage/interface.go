package storage

import (
	"context"
	"io"
)

// Storage holds grade rule sheets uploaded by administrators and the
// exported record workbooks.
type Storage interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data io.ReadSeeker) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
