package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/paygate/types"
	bolt "go.etcd.io/bbolt"
)

var consumedBucket = []byte("consumed_payments")

// BoltGuard persists consumed references in a bbolt file so they survive
// restarts of a single instance. bbolt allows one writer at a time, so the
// check and the put inside one Update transaction are atomic.
type BoltGuard struct {
	db *bolt.DB
}

var _ Guard = (*BoltGuard)(nil)

func NewBoltGuard(path string) (*BoltGuard, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open replay store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(consumedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create replay bucket: %w", err)
	}

	return &BoltGuard{db: db}, nil
}

func (g *BoltGuard) IsConsumed(ctx context.Context, ref types.TxRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found bool
	err := g.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(consumedBucket).Get([]byte(ref)) != nil
		return nil
	})
	return found, err
}

func (g *BoltGuard) TryConsume(ctx context.Context, ref types.TxRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var inserted bool
	err := g.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(consumedBucket)
		if b.Get([]byte(ref)) != nil {
			return nil
		}
		stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		if err := b.Put([]byte(ref), stamp); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", ref, err)
	}
	return inserted, nil
}

func (g *BoltGuard) Count(context.Context) (int, error) {
	var n int
	err := g.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(consumedBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (g *BoltGuard) Close() error {
	return g.db.Close()
}
