package media

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by storage backends for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// Storage is a blob backend addressed by key.
type Storage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}
