package server

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/vitwit/paygate/events"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
	"golang.org/x/time/rate"
)

type ctxKey int

const (
	paymentKey ctxKey = iota
	requestKey
)

// PaymentFromContext returns the payment verified for this request.
func PaymentFromContext(ctx context.Context) (*types.VerifiedPayment, bool) {
	p, ok := ctx.Value(paymentKey).(*types.VerifiedPayment)
	return p, ok
}

func promptFromContext(ctx context.Context) (*promptRequest, bool) {
	r, ok := ctx.Value(requestKey).(*promptRequest)
	return r, ok
}

// requirePayment verifies the x-payment-hash header against the requested
// model and only calls next for an accepted, freshly consumed payment.
func (s *Server) requirePayment(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimSpace(r.Header.Get(HeaderPaymentHash))
		if ref == "" {
			s.writePaymentRequired(w)
			return
		}

		var body promptRequest
		if err := utils.DecodeJSON(r.Body, &body, maxBodyBytes); err != nil {
			s.writeFailure(w, err)
			return
		}

		res, err := s.Verifier.Verify(r.Context(), types.PaymentClaim{Ref: ref, ModelID: body.Model})
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		if !res.IsValid {
			writeReason(w, res.InvalidReason, res.Message, nil)
			return
		}

		s.afterConsume(r.Context(), events.VerifiedEvent(res.Payment, s.Network.ChainID))

		ctx := context.WithValue(r.Context(), paymentKey, res.Payment)
		ctx = context.WithValue(ctx, requestKey, &body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// afterConsume publishes ev and refreshes the consumed gauge. Both are best
// effort: the payment is already committed.
func (s *Server) afterConsume(ctx context.Context, ev *events.PaymentEvent) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish payment event", map[string]any{"txHash": ev.TxHash, "err": err})
	}
	if s.Consumed == nil {
		return
	}
	if n, err := s.Consumed.Count(ctx); err == nil {
		s.metrics.SetConsumedPayments(n)
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.get(s.clientIP(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeReason(w, types.ReasonRateLimited, "too many requests, slow down", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records one HTTP metric per request under a fixed handler name.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.metrics.ObserveHTTPRequest(name, r.Method, wrapped.statusCode, time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

const maxTrackedClients = 4096

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (c *clientLimiter) get(client string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lim, ok := c.limiters[client]; ok {
		return lim
	}

	// Evict an arbitrary entry once the table is full.
	if len(c.limiters) >= maxTrackedClients {
		for id := range c.limiters {
			delete(c.limiters, id)
			break
		}
	}

	lim := rate.NewLimiter(c.rps, c.burst)
	c.limiters[client] = lim
	return lim
}

// clientIP identifies the caller for rate limiting. X-Forwarded-For is only
// read when the socket peer is a trusted proxy; the rightmost untrusted hop
// is the client.
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.isTrustedProxy(host) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.isTrustedProxy(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (s *Server) isTrustedProxy(ip string) bool {
	if len(s.trustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseProxy(entry string) (netip.Prefix, bool) {
	entry = strings.TrimSpace(entry)
	if prefix, err := netip.ParsePrefix(entry); err == nil {
		return prefix.Masked(), true
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), true
}
