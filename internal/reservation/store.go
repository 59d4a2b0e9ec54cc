// Package reservation holds the per-saree claim that gates order admission.
// A reservation maps saree_id -> order_id for a fixed window; the backing
// store expires it on its own, nothing polls.
package reservation

import (
	"context"
	"time"
)

const (
	DefaultWindow    = 15 * time.Minute
	DefaultExtension = 10 * time.Minute
)

type Store interface {
	// Acquire installs sareeID -> orderID for ttl if no live entry exists.
	// false means another order holds the saree; it is not an error.
	Acquire(ctx context.Context, sareeID, orderID string, ttl time.Duration) (bool, error)

	// Peek returns the holder of sareeID, ok=false when unclaimed.
	Peek(ctx context.Context, sareeID string) (orderID string, ok bool, err error)

	// Release drops the entry if orderID still holds it. Releasing an
	// expired or foreign entry is a no-op.
	Release(ctx context.Context, sareeID, orderID string) error

	// Extend adds extra to the remaining lifetime when orderID is the holder
	// and returns the new remaining lifetime. ok=false when it is not.
	Extend(ctx context.Context, sareeID, orderID string, extra time.Duration) (remaining time.Duration, ok bool, err error)
}
