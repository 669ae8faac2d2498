package store

import (
	"context"
	"time"
)

// Block kinds recorded alongside a blocked key.
const (
	BlockHard = "hard"
	BlockTemp = "temp"
)

// Storer is the common interface for edge state backends (Redis, in-memory).
// It holds client blocks and short-lived request counters.
type Storer interface {
	// Increment bumps key and returns the new value. The counter expires
	// expiration after its first increment.
	Increment(ctx context.Context, key string, expiration time.Duration) (int64, error)
	IsBlocked(ctx context.Context, key string) bool
	// Block records key as blocked for expiration; zero means no expiry.
	Block(ctx context.Context, key string, expiration time.Duration, kind string) error
	Unblock(ctx context.Context, key string) error
	ListBlocks(ctx context.Context) (map[string]string, error)
	Close() error
}
