// Package providers dispatches paid prompts to upstream AI services.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
)

// Provider produces a completion for prompt using the upstream model named
// by routingKey.
type Provider interface {
	Name() string
	Generate(ctx context.Context, routingKey, prompt string) (string, error)
}

// ErrUnknownModel is returned for a model id the router does not know.
var ErrUnknownModel = errors.New("unknown model")

// FailurePolicy decides what happens when the provider fails after the
// payment has been consumed.
type FailurePolicy string

const (
	// PolicyNone reports the failure; the payment stays consumed.
	PolicyNone FailurePolicy = "none"
	// PolicyRetry makes one more attempt before reporting the failure.
	PolicyRetry FailurePolicy = "retry"
)

// Registry maps provider names to implementations.
type Registry struct {
	router    RouterFunc
	providers map[string]Provider
	fallback  Provider
	policy    FailurePolicy
	log       logger.Logger
	metrics   metrics.Recorder
}

// RouterFunc resolves a model id to (provider, routing key).
type RouterFunc func(modelID string) (provider, routingKey string, ok bool)

type Option func(*Registry)

// WithFallback sets the provider used when a model's provider has no
// implementation registered (typically: no API key configured).
func WithFallback(p Provider) Option {
	return func(r *Registry) { r.fallback = p }
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(r *Registry) {
		if p != "" {
			r.policy = p
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

func NewRegistry(router RouterFunc, opts ...Option) *Registry {
	r := &Registry{
		router:    router,
		providers: make(map[string]Provider),
		policy:    PolicyNone,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs p under its Name, replacing any previous one.
func (r *Registry) Register(p Provider) {
	r.RegisterAs(p.Name(), p)
}

// RegisterAs installs p for the provider name used in the pricing table.
func (r *Registry) RegisterAs(name string, p Provider) {
	r.providers[name] = p
}

// Has reports whether a provider is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Resolve returns the provider and routing key that serve modelID.
func (r *Registry) Resolve(modelID string) (Provider, string, error) {
	name, key, ok := r.router(modelID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	if p, ok := r.providers[name]; ok {
		return p, key, nil
	}
	if r.fallback != nil {
		r.log.Warn("no provider configured, using fallback", map[string]any{
			"model":    modelID,
			"provider": name,
			"fallback": r.fallback.Name(),
		})
		return r.fallback, key, nil
	}
	return nil, "", fmt.Errorf("no provider %q configured for model %s", name, modelID)
}

// Generate sends prompt to the provider serving modelID.
func (r *Registry) Generate(ctx context.Context, modelID, prompt string) (string, error) {
	p, key, err := r.Resolve(modelID)
	if err != nil {
		return "", &types.PaymentError{Code: types.ErrProviderError, Reason: types.ReasonAIServiceError, Message: "provider unavailable", Err: err}
	}

	attempts := 1
	if r.policy == PolicyRetry {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		started := time.Now()
		out, err := p.Generate(ctx, key, prompt)
		r.metrics.ObserveProvider(p.Name(), err, time.Since(started))
		if err == nil {
			return out, nil
		}
		lastErr = err
		r.log.Warn("provider call failed", map[string]any{
			"provider": p.Name(),
			"model":    modelID,
			"attempt":  i + 1,
			"err":      err,
		})
		if ctx.Err() != nil {
			break
		}
	}

	return "", &types.PaymentError{
		Code:    types.ErrProviderError,
		Reason:  types.ReasonAIServiceError,
		Message: fmt.Sprintf("%s request failed", p.Name()),
		Err:     lastErr,
	}
}
