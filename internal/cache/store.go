package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when the key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is the minimal durable key-value contract the pipeline depends on.
// A ttl of zero means the entry does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
