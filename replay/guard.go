// Package replay records which payment transactions have already paid for
// a response. A reference is inserted at most once and never removed.
package replay

import (
	"context"
	"sync"

	"github.com/vitwit/paygate/types"
)

// Guard is a set of consumed transaction references.
//
// TryConsume must be atomic: when several callers race on the same
// reference exactly one of them observes true. IsConsumed is a read-only
// fast path and gives no such guarantee.
type Guard interface {
	IsConsumed(ctx context.Context, ref types.TxRef) (bool, error)
	TryConsume(ctx context.Context, ref types.TxRef) (bool, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryGuard keeps the set in process memory. It is empty at startup.
type MemoryGuard struct {
	mu   sync.Mutex
	refs map[types.TxRef]struct{}
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{refs: make(map[types.TxRef]struct{})}
}

func (g *MemoryGuard) IsConsumed(_ context.Context, ref types.TxRef) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.refs[ref]
	return ok, nil
}

func (g *MemoryGuard) TryConsume(_ context.Context, ref types.TxRef) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.refs[ref]; ok {
		return false, nil
	}
	g.refs[ref] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Count(context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refs), nil
}

func (g *MemoryGuard) Close() error { return nil }
