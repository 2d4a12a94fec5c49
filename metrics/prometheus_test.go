package metrics

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorder_Verification(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveVerification("direct", OutcomeAccepted, 20*time.Millisecond)
	rec.ObserveVerification("direct", OutcomeAccepted, 30*time.Millisecond)
	rec.ObserveVerification("contract", "model_mismatch", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.verifications.WithLabelValues("direct", OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.verifications.WithLabelValues("contract", "model_mismatch")))
	assert.Equal(t, 2, testutil.CollectAndCount(rec.verifyLatency))
}

func TestPrometheusRecorder_RPCStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveRPC("eth_getTransactionByHash", nil, time.Millisecond)
	rec.ObserveRPC("eth_getTransactionByHash", errors.New("timeout"), time.Millisecond)
	rec.ObserveRPC("eth_getTransactionByHash", errors.New("timeout"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.rpcCalls.WithLabelValues("eth_getTransactionByHash", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.rpcCalls.WithLabelValues("eth_getTransactionByHash", "error")))
}

func TestPrometheusRecorder_HTTPAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveHTTPRequest("/chat", http.MethodPost, http.StatusPaymentRequired, time.Millisecond)
	rec.SetConsumedPayments(7)
	rec.ObserveRelay(OutcomeAccepted, time.Second)
	rec.ObserveProvider("mock", nil, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.httpRequests.WithLabelValues("/chat", "POST", "402")))
	assert.Equal(t, 7.0, testutil.ToFloat64(rec.consumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.relays.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.providerCalls.WithLabelValues("mock", "ok")))
}

func TestNewPrometheusRecorder_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusRecorder(reg)
	assert.Panics(t, func() { NewPrometheusRecorder(reg) })
}
