// Package events announces accepted payments to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/paygate/types"
)

// Event types, also used as the last subject token.
const (
	TypeVerified = "verified"
	TypeRelayed  = "relayed"
)

// PaymentEvent is published once per accepted payment.
type PaymentEvent struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	TxHash     string                 `json:"txHash"`
	Payer      string                 `json:"payer,omitempty"`
	Model      string                 `json:"model"`
	AmountWei  string                 `json:"amountWei"`
	Mode       types.VerificationMode `json:"mode,omitempty"`
	ChainID    int64                  `json:"chainId"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// Subject returns the JetStream subject the event is published on.
func (e *PaymentEvent) Subject() string {
	return SubjectPrefix + e.Type
}

// VerifiedEvent builds the event for a payment accepted by the verifier.
func VerifiedEvent(p *types.VerifiedPayment, chainID int64) *PaymentEvent {
	amount := ""
	if p.Amount != nil {
		amount = p.Amount.String()
	}
	return &PaymentEvent{
		ID:         uuid.NewString(),
		Type:       TypeVerified,
		TxHash:     p.TxHash.String(),
		Payer:      p.Payer,
		Model:      p.ModelID,
		AmountWei:  amount,
		Mode:       p.Mode,
		ChainID:    chainID,
		OccurredAt: p.VerifiedAt,
	}
}

// RelayedEvent builds the event for a transaction broadcast by the relay.
func RelayedEvent(r *types.RelayResult, modelID string, chainID int64) *PaymentEvent {
	amount := ""
	if r.Value != nil {
		amount = r.Value.String()
	}
	return &PaymentEvent{
		ID:         uuid.NewString(),
		Type:       TypeRelayed,
		TxHash:     r.TxHash,
		Payer:      r.Payer,
		Model:      modelID,
		AmountWei:  amount,
		ChainID:    chainID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends payment events somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, event *PaymentEvent) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *PaymentEvent) error { return nil }
func (NoopPublisher) Close() error                                 { return nil }
