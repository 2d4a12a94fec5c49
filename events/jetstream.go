package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/vitwit/paygate/logger"
)

const (
	// StreamName is the JetStream stream holding payment events.
	StreamName = "PAYMENTS"

	// SubjectPrefix is prepended to the event type.
	SubjectPrefix = "payments."

	StreamSubjects  = "payments.>"
	StreamRetention = 30 * 24 * time.Hour
)

// JetStreamPublisher publishes payment events to NATS JetStream.
type JetStreamPublisher struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log logger.Logger
}

var _ Publisher = (*JetStreamPublisher)(nil)

// NewJetStreamPublisher connects to natsURL and makes sure the stream exists.
func NewJetStreamPublisher(ctx context.Context, natsURL string, log logger.Logger) (*JetStreamPublisher, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("paygate-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, log: log}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	log.Info("NATS publisher initialized", map[string]any{"url": natsURL, "stream": StreamName})
	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if stream, err := p.js.Stream(ctx, StreamName); err == nil {
		if info, err := stream.Info(ctx); err == nil {
			p.log.Debug("JetStream stream already exists", map[string]any{
				"stream":   StreamName,
				"messages": info.State.Msgs,
			})
		}
		return nil
	}

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Accepted prompt payments",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", StreamName, err)
	}
	p.log.Info("JetStream stream created", map[string]any{"stream": StreamName})
	return nil
}

// Publish sends event, deduplicated by its ID on the server side.
func (p *JetStreamPublisher) Publish(ctx context.Context, event *PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	subject := event.Subject()
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	p.log.Debug("published payment event", map[string]any{
		"subject": subject,
		"tx_hash": event.TxHash,
	})
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
		p.log.Info("NATS publisher closed", nil)
	}
	return nil
}
