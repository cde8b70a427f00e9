package core

import (
	"context"
	"errors"
	"io"
)

var ErrFileNotFound = errors.New("file not found")

// FileStore keeps uploaded files (e.g. the original of an import batch).
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
