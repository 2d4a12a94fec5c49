package paygate

import (
	"time"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/events"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/providers"
	"github.com/vitwit/paygate/replay"
)

type Option func(*Gateway)

func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithMetrics replaces the recorder built from ENABLE_METRICS. No /metrics
// endpoint is served in that case.
func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gateway) {
		g.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(g *Gateway) {
		if t > 0 {
			g.timeout = t
		}
	}
}

// WithClient uses c instead of dialling RPC_URL.
func WithClient(c clients.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

// WithGuard uses guard instead of opening REPLAY_STORE.
func WithGuard(guard replay.Guard) Option {
	return func(g *Gateway) {
		g.guard = guard
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(g *Gateway) {
		g.publisher = p
	}
}

// WithProvider registers p after the configured providers, replacing any
// provider of the same name.
func WithProvider(p providers.Provider) Option {
	return func(g *Gateway) {
		g.extraProviders = append(g.extraProviders, p)
	}
}
