// Package metadata stores small client facts (cached user profile, last
// sync time, last connectivity state) in a key-value table.
package metadata

import (
	"context"
)

type Repository interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string]string, error)
}
