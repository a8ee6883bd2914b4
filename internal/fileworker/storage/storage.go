// Package storage keeps the file worker's objects. S3Store talks to any
// S3-compatible backend; MemoryStore backs tests and the memory mode.
package storage

import (
	"context"
	"io"
)

// Object describes a stored file.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// Store is the object storage used by the HTTP API.
//
// Contract:
//   - Put overwrites an existing key.
//   - Get and Delete return an error matching common.ErrNotFound for a
//     missing key.
//   - Ping reports whether the backend is usable.
type Store interface {
	Put(ctx context.Context, obj Object, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, Object, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
