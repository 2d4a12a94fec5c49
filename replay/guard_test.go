package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/paygate/types"
)

func ref(i int) types.TxRef {
	return types.NormalizeTxRef(fmt.Sprintf("0x%064x", i))
}

// exerciseGuard runs the behaviour every backend must share.
func exerciseGuard(t *testing.T, g Guard) {
	t.Helper()
	ctx := context.Background()

	consumed, err := g.IsConsumed(ctx, ref(1))
	require.NoError(t, err)
	assert.False(t, consumed)

	ok, err := g.TryConsume(ctx, ref(1))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryConsume(ctx, ref(1))
	require.NoError(t, err)
	assert.False(t, ok, "second consume of the same reference must fail")

	consumed, err = g.IsConsumed(ctx, ref(1))
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = g.IsConsumed(ctx, ref(2))
	require.NoError(t, err)
	assert.False(t, consumed)

	n, err := g.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// raceGuard fires n concurrent consumes of one reference and expects
// exactly one winner.
func raceGuard(t *testing.T, g Guard, n int) {
	t.Helper()
	ctx := context.Background()
	target := ref(42)

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := g.TryConsume(ctx, target)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryGuard(t *testing.T) {
	exerciseGuard(t, NewMemoryGuard())
}

func TestMemoryGuard_ConcurrentConsume(t *testing.T) {
	raceGuard(t, NewMemoryGuard(), 64)
}

func TestBoltGuard(t *testing.T) {
	g, err := NewBoltGuard(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	defer g.Close()

	exerciseGuard(t, g)
}

func TestBoltGuard_ConcurrentConsume(t *testing.T) {
	g, err := NewBoltGuard(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	defer g.Close()

	raceGuard(t, g, 32)
}

func TestBoltGuard_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.db")
	ctx := context.Background()

	g, err := NewBoltGuard(path)
	require.NoError(t, err)
	ok, err := g.TryConsume(ctx, ref(7))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Close())

	g, err = NewBoltGuard(path)
	require.NoError(t, err)
	defer g.Close()

	consumed, err := g.IsConsumed(ctx, ref(7))
	require.NoError(t, err)
	assert.True(t, consumed)

	ok, err = g.TryConsume(ctx, ref(7))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltGuard_CancelledContext(t *testing.T) {
	g, err := NewBoltGuard(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = g.TryConsume(ctx, ref(3))
	require.Error(t, err)

	n, err := g.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresGuard(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	g, err := NewPostgresGuard(ctx, dbURL)
	require.NoError(t, err)
	defer g.Close()

	_, err = g.pool.Exec(ctx, `TRUNCATE consumed_payments`)
	require.NoError(t, err)

	exerciseGuard(t, g)
	raceGuard(t, g, 16)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	g, err := Open(ctx, "", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryGuard{}, g)

	g, err = Open(ctx, StoreBolt, filepath.Join(t.TempDir(), "r.db"), "")
	require.NoError(t, err)
	assert.IsType(t, &BoltGuard{}, g)
	require.NoError(t, g.Close())

	_, err = Open(ctx, "redis", "", "")
	require.Error(t, err)
}
