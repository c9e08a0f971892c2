package batchmast

import (
	"context"
	"io"
)

// ObjectStore is the remote workspace shared with the Batch workers.
// Keys are bucket-relative paths.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}
