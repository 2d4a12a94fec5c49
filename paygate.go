// Package paygate gates AI prompts behind on-chain micropayments. A Gateway
// wires the chain client, replay store, verifier, relay and AI providers
// described by a config.Config and serves them over HTTP.
package paygate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/config"
	"github.com/vitwit/paygate/events"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/pricing"
	"github.com/vitwit/paygate/providers"
	"github.com/vitwit/paygate/replay"
	"github.com/vitwit/paygate/server"
	"github.com/vitwit/paygate/settlement"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/verification"
)

// Gateway is the main struct that provides all paygate functionality
type Gateway struct {
	cfg       *config.Config
	client    clients.Client
	guard     replay.Guard
	prices    *pricing.Table
	verifier  *verification.Verifier
	relay     *settlement.Relay
	registry  *providers.Registry
	publisher events.Publisher

	logger         logger.Logger
	metrics        metrics.Recorder
	metricsHandler http.Handler
	timeout        time.Duration
	extraProviders []providers.Provider
}

// New builds a Gateway for cfg. Collaborators not injected through options
// are created from cfg: the RPC client is dialled and its chain id checked,
// the replay store opened and, when NATS_URL is set, the event stream
// ensured.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, &types.PaymentError{Code: types.ErrConfigError, Reason: types.ReasonMisconfigured, Message: "config is nil"}
	}

	g := &Gateway{
		cfg:     cfg,
		logger:  logger.NoopLogger{},
		timeout: cfg.RPCTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = metrics.NoopRecorder{}
		if cfg.EnableMetrics {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			g.metrics = metrics.NewPrometheusRecorder(reg)
			g.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		}
	}

	if err := g.init(ctx); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) init(ctx context.Context) error {
	var err error
	cfg := g.cfg

	if cfg.PricingFile != "" {
		g.prices, err = pricing.LoadFile(cfg.PricingFile, cfg.Network.Currency, cfg.Network.Decimals)
	} else {
		g.prices, err = pricing.Default(cfg.Network.Currency, cfg.Network.Decimals)
	}
	if err != nil {
		return fmt.Errorf("failed to load pricing: %w", err)
	}

	if g.client == nil {
		evm, err := clients.NewEVMClient(ctx, cfg.Network, clients.WithRateLimit(cfg.RPCRateLimit))
		if err != nil {
			return fmt.Errorf("failed to create EVM client for %s: %w", cfg.Network.Name, err)
		}
		g.client = evm
	}
	g.client = clients.NewObservedClient(g.client, g.metrics)

	if err := g.checkChainID(ctx); err != nil {
		return err
	}

	if g.guard == nil {
		g.guard, err = replay.Open(ctx, cfg.ReplayStore, cfg.ReplayBoltPath, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open replay store %q: %w", cfg.ReplayStore, err)
		}
	}

	if g.publisher == nil {
		g.publisher = events.NoopPublisher{}
		if cfg.NATSURL != "" {
			pub, err := events.NewJetStreamPublisher(ctx, cfg.NATSURL, g.logger)
			if err != nil {
				return err
			}
			g.publisher = pub
		}
	}

	g.verifier = verification.NewVerifier(g.client, g.prices, g.guard, verification.Config{
		Mode:     cfg.Mode,
		Receiver: cfg.ReceiverAddress,
		Contract: cfg.ContractAddress,
		Network:  cfg.Network,
		Timeout:  g.timeout,
	}, verification.WithLogger(g.logger), verification.WithMetrics(g.metrics))

	g.relay = settlement.NewRelay(g.client, cfg.Network, cfg.ConfirmationTimeout,
		settlement.WithLogger(g.logger), settlement.WithMetrics(g.metrics))

	g.registry = g.buildRegistry()

	if cfg.Mode == types.ModeDirect && cfg.ReceiverAddress == "" {
		g.logger.Warn("SERVER_WALLET_ADDRESS is not set; paid requests will fail", nil)
	}
	if cfg.Mode == types.ModeContract && cfg.ContractAddress == "" {
		g.logger.Warn("CONTRACT_ADDRESS is not set; paid requests will fail", nil)
	}
	return nil
}

func (g *Gateway) checkChainID(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	id, err := g.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain id from %s: %w", g.cfg.Network.RPCURL, err)
	}
	if id.Cmp(g.cfg.Network.ChainIDBig()) != 0 {
		return &types.PaymentError{
			Code:    types.ErrConfigError,
			Reason:  types.ReasonMisconfigured,
			Message: fmt.Sprintf("RPC endpoint serves chain %s, expected %d", id, g.cfg.Network.ChainID),
		}
	}
	return nil
}

func (g *Gateway) buildRegistry() *providers.Registry {
	cfg := g.cfg
	reg := providers.NewRegistry(g.prices.RoutingKeyOf,
		providers.WithFallback(providers.NewMockProvider("API key not configured")),
		providers.WithFailurePolicy(providers.FailurePolicy(cfg.AIFailurePolicy)),
		providers.WithLogger(g.logger),
		providers.WithMetrics(g.metrics),
	)

	mock := providers.NewMockProvider("")
	reg.RegisterAs(pricing.ProviderMock, mock)

	if cfg.UseMockAI {
		for _, name := range []string{pricing.ProviderOpenAI, pricing.ProviderGemini, pricing.ProviderGroq} {
			reg.RegisterAs(name, mock)
		}
	} else {
		baseURLs := map[string]string{
			pricing.ProviderOpenAI: providers.OpenAIBaseURL,
			pricing.ProviderGemini: providers.GeminiBaseURL,
			pricing.ProviderGroq:   providers.GroqBaseURL,
		}
		for name, key := range cfg.ProviderKeys() {
			if key == "" {
				continue
			}
			reg.Register(providers.NewChatProvider(name, baseURLs[name], key, cfg.AITimeout))
		}
	}

	for _, p := range g.extraProviders {
		reg.Register(p)
	}
	return reg
}

// Verify checks a payment claim and consumes it when valid.
func (g *Gateway) Verify(ctx context.Context, claim types.PaymentClaim) (*types.VerificationResult, error) {
	return g.verifier.Verify(ctx, claim)
}

// BatchVerify verifies claims concurrently, at most limit at a time.
func (g *Gateway) BatchVerify(ctx context.Context, claims []types.PaymentClaim, limit int) ([]*types.VerificationResult, error) {
	return g.verifier.BatchVerify(ctx, claims, limit)
}

// Relay validates and broadcasts a client-signed payment.
func (g *Gateway) Relay(ctx context.Context, req *types.RelayRequest) (*types.RelayResult, error) {
	return g.relay.Relay(ctx, req)
}

// CheckSignedTx validates a signed payment for modelID without broadcasting it.
func (g *Gateway) CheckSignedTx(signedTx, modelID string) (*types.RelayResult, error) {
	price, ok := g.prices.PriceOf(modelID)
	if !ok {
		return nil, &types.PaymentError{Code: types.ErrInvalidPayload, Reason: types.ReasonInvalidModel, Message: fmt.Sprintf("unknown model: %s", modelID)}
	}
	_, res := g.relay.Check(&types.RelayRequest{
		SignedTx: signedTx,
		Receiver: g.cfg.ReceiverAddress,
		MinValue: price,
		ModelID:  modelID,
	})
	return res, nil
}

// Generate forwards prompt to the provider serving modelID.
func (g *Gateway) Generate(ctx context.Context, modelID, prompt string) (string, error) {
	return g.registry.Generate(ctx, modelID, prompt)
}

// IsConsumed reports whether ref has already paid for a response.
func (g *Gateway) IsConsumed(ctx context.Context, ref string) (bool, error) {
	r := types.NormalizeTxRef(ref)
	if err := r.Validate(); err != nil {
		return false, &types.PaymentError{Code: types.ErrInvalidPayload, Reason: types.ReasonInvalidTxHash, Message: err.Error()}
	}
	return g.guard.IsConsumed(ctx, r)
}

// ConsumedCount returns the number of consumed payments.
func (g *Gateway) ConsumedCount(ctx context.Context) (int, error) {
	return g.guard.Count(ctx)
}

func (g *Gateway) Pricing() *pricing.Table {
	return g.prices
}

func (g *Gateway) Network() types.Network {
	return g.cfg.Network
}

// Server returns the HTTP API bound to this gateway.
func (g *Gateway) Server() *server.Server {
	opts := []server.Option{
		server.WithLogger(g.logger),
		server.WithMetrics(g.metrics),
		server.WithPublisher(g.publisher),
		server.WithRateLimit(g.cfg.RateLimitRPS, g.cfg.RateLimitBurst),
		server.WithTrustedProxies(g.cfg.TrustedProxies...),
	}
	if g.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(g.metricsHandler))
	}

	return server.New(server.Deps{
		Verifier:  g.verifier,
		Relayer:   g.relay,
		Generator: g.registry,
		Catalog:   g.prices,
		Consumed:  g.guard,
		Network:   g.cfg.Network,
		Receiver:  g.cfg.ReceiverAddress,
		Contract:  g.cfg.ContractAddress,
		Version:   Version,
	}, opts...)
}

// Handler is shorthand for Server().Handler().
func (g *Gateway) Handler() http.Handler {
	return g.Server().Handler()
}

// Serve runs the HTTP API on the configured address until ctx is done.
func (g *Gateway) Serve(ctx context.Context) error {
	return g.Server().ListenAndServe(ctx, g.cfg.ServerAddr)
}

// Close closes all client connections
func (g *Gateway) Close() error {
	var errs []error
	if g.publisher != nil {
		errs = append(errs, g.publisher.Close())
	}
	if g.guard != nil {
		errs = append(errs, g.guard.Close())
	}
	if g.client != nil {
		g.client.Close()
	}
	return errors.Join(errs...)
}

// Version information
const (
	Version = "1.0.0"
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":    Version,
		"verification_modes": []string{string(types.ModeDirect), string(types.ModeContract)},
		"replay_stores":      []string{replay.StoreMemory, replay.StoreBolt, replay.StorePostgres},
		"default_network":    types.CronosTestnet.Name,
		"default_chain_id":   types.CronosTestnet.ChainID,
	}
}
