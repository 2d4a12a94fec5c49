package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paygate"

type PrometheusRecorder struct {
	verifications   *prometheus.CounterVec
	verifyLatency   *prometheus.HistogramVec
	rpcCalls        *prometheus.CounterVec
	rpcLatency      *prometheus.HistogramVec
	relays          *prometheus.CounterVec
	relayLatency    prometheus.Histogram
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	consumed        prometheus.Gauge
}

// NewPrometheusRecorder registers the gateway collectors with reg.
// Passing a fresh registry keeps tests isolated from the default one.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Payment verifications by mode and outcome",
		}, []string{"mode", "outcome"}),
		verifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Payment verification latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Chain RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Chain RPC latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Relayed signed transactions by outcome",
		}, []string{"outcome"}),
		relayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_duration_seconds",
			Help:      "Time from relay request to confirmation",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "AI provider calls by provider and status",
		}, []string{"provider", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      "AI provider latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by handler, method and status",
		}, []string{"handler", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "method"}),
		consumed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumed_payments",
			Help:      "Payment references marked consumed",
		}),
	}

	reg.MustRegister(
		p.verifications, p.verifyLatency,
		p.rpcCalls, p.rpcLatency,
		p.relays, p.relayLatency,
		p.providerCalls, p.providerLatency,
		p.httpRequests, p.httpLatency,
		p.consumed,
	)
	return p
}

func (p *PrometheusRecorder) ObserveVerification(mode, outcome string, d time.Duration) {
	p.verifications.WithLabelValues(mode, outcome).Inc()
	p.verifyLatency.WithLabelValues(mode).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRPC(method string, err error, d time.Duration) {
	p.rpcCalls.WithLabelValues(method, statusLabel(err)).Inc()
	p.rpcLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRelay(outcome string, d time.Duration) {
	p.relays.WithLabelValues(outcome).Inc()
	p.relayLatency.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveProvider(provider string, err error, d time.Duration) {
	p.providerCalls.WithLabelValues(provider, statusLabel(err)).Inc()
	p.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveHTTPRequest(handler, method string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	p.httpLatency.WithLabelValues(handler, method).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetConsumedPayments(n int) {
	p.consumed.Set(float64(n))
}
