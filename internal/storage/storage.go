package storage

import (
	"context"
	"io"
)

// Storage is the artifact byte store. Keys are relative paths under the
// configured root or bucket prefix.
type Storage interface {
	// Save stores the contents of r under key and returns the bytes written.
	Save(ctx context.Context, key string, r io.Reader) (int64, error)

	// Open returns a reader for the stored object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the stored object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
