// Package cache implements the bounded in-process cache of hot keys and the
// contract of the remote store it fronts.
package cache

import "context"

// Store is the remote key-value store behind the hot-key layer.
// Get reports found=false with a nil error when the key does not exist.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
