package replay

import (
	"context"
	"fmt"
)

// Store backends selectable through REPLAY_STORE.
const (
	StoreMemory   = "memory"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Open constructs the guard named by store.
func Open(ctx context.Context, store, boltPath, databaseURL string) (Guard, error) {
	switch store {
	case "", StoreMemory:
		return NewMemoryGuard(), nil
	case StoreBolt:
		return NewBoltGuard(boltPath)
	case StorePostgres:
		return NewPostgresGuard(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown replay store %q", store)
	}
}
