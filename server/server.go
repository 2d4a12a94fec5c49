// Package server exposes the paid prompt endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/netip"
	"time"

	"github.com/rs/cors"
	"github.com/vitwit/paygate/events"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/pricing"
	"github.com/vitwit/paygate/settlement"
	"github.com/vitwit/paygate/types"
)

// Header names carrying payment proof.
const (
	HeaderPaymentHash = "x-payment-hash"
	HeaderSignedTx    = "x402-signed-tx"
)

const maxBodyBytes = 64 << 10

// Verifier checks a payment claim and consumes it on success.
type Verifier interface {
	Verify(ctx context.Context, claim types.PaymentClaim) (*types.VerificationResult, error)
	Mode() types.VerificationMode
}

// Generator answers a prompt for a priced model.
type Generator interface {
	Generate(ctx context.Context, modelID, prompt string) (string, error)
}

// Catalog is the pricing view the handlers need.
type Catalog interface {
	PriceOf(modelID string) (*big.Int, bool)
	Lookup(modelID string) (pricing.Entry, bool)
	Models() []types.ModelInfo
}

// Ledger records consumed payment references. /chat consumes through the
// Verifier; /premium commits relayed transactions here directly.
type Ledger interface {
	TryConsume(ctx context.Context, ref types.TxRef) (bool, error)
	Count(ctx context.Context) (int, error)
}

// Deps are the collaborators every server needs.
type Deps struct {
	Verifier  Verifier
	Relayer   settlement.Relayer
	Generator Generator
	Catalog   Catalog
	Consumed  Ledger

	Network  types.Network
	Receiver string
	Contract string
	Version  string
}

type Server struct {
	Deps

	log            logger.Logger
	metrics        metrics.Recorder
	publisher      events.Publisher
	limiter        *clientLimiter
	trustedProxies []netip.Prefix
	metricsHandler http.Handler
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPublisher announces accepted payments on p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithRateLimit limits each client to rps requests per second on the paid
// endpoints. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newClientLimiter(rps, burst)
		}
	}
}

// WithTrustedProxies makes the rate limiter honour X-Forwarded-For on
// requests arriving from one of proxies (IP addresses or CIDR ranges).
// Without it every client is identified by its socket address. Entries that
// do not parse are ignored.
func WithTrustedProxies(proxies ...string) Option {
	return func(s *Server) {
		for _, p := range proxies {
			if prefix, ok := parseProxy(p); ok {
				s.trustedProxies = append(s.trustedProxies, prefix)
			}
		}
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		Deps:      deps,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		publisher: events.NoopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /chat", s.instrument("/chat", s.rateLimit(s.requirePayment(http.HandlerFunc(s.handleChat)))))
	mux.Handle("POST /premium", s.instrument("/premium", s.rateLimit(http.HandlerFunc(s.handlePremium))))
	mux.Handle("GET /health", s.instrument("/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /info", s.instrument("/info", http.HandlerFunc(s.handleInfo)))
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", HeaderPaymentHash, HeaderSignedTx},
	})
	return c.Handler(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("http server shutting down", nil)
	return srv.Shutdown(shutdownCtx)
}
