package metrics

import "time"

// Recorder receives gateway measurements. Label values are kept to small
// fixed sets (modes, reason codes, RPC method names).
type Recorder interface {
	ObserveVerification(mode, outcome string, duration time.Duration)
	ObserveRPC(method string, err error, duration time.Duration)
	ObserveRelay(outcome string, duration time.Duration)
	ObserveProvider(provider string, err error, duration time.Duration)
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
	SetConsumedPayments(n int)
}

const (
	OutcomeAccepted = "accepted"
	OutcomeError    = "error"
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
