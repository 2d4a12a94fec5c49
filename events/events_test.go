package events

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/paygate/types"
)

func TestVerifiedEvent(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := VerifiedEvent(&types.VerifiedPayment{
		TxHash:     types.NormalizeTxRef("0xAB"),
		Amount:     big.NewInt(150),
		Payer:      "0x1111111111111111111111111111111111111111",
		ModelID:    "groq",
		Mode:       types.ModeDirect,
		VerifiedAt: at,
	}, 338)

	_, err := uuid.Parse(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments.verified", ev.Subject())
	assert.Equal(t, "150", ev.AmountWei)
	assert.Equal(t, "0xab", ev.TxHash)
	assert.Equal(t, at, ev.OccurredAt)
	assert.Equal(t, int64(338), ev.ChainID)
}

func TestRelayedEvent(t *testing.T) {
	ev := RelayedEvent(&types.RelayResult{Success: true, TxHash: "0xfeed", Value: big.NewInt(7)}, "gpt-4o", 338)
	assert.Equal(t, "payments.relayed", ev.Subject())
	assert.Equal(t, "7", ev.AmountWei)
	assert.Equal(t, "gpt-4o", ev.Model)

	other := RelayedEvent(&types.RelayResult{TxHash: "0xfeed"}, "gpt-4o", 338)
	assert.NotEqual(t, ev.ID, other.ID)
	assert.Empty(t, other.AmountWei)
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.Publish(ctx, &PaymentEvent{ID: "1"}))
	m.SetError(errors.New("down"))
	require.Error(t, m.Publish(ctx, &PaymentEvent{ID: "2"}))

	assert.Len(t, m.Events(), 1)
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	require.NoError(t, p.Publish(context.Background(), &PaymentEvent{}))
	require.NoError(t, p.Close())
}

func TestJetStreamPublisher(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := NewJetStreamPublisher(ctx, url, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(ctx, RelayedEvent(&types.RelayResult{TxHash: "0x01"}, "groq", 338)))
}
