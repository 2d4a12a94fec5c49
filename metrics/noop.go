package metrics

import "time"

type NoopRecorder struct{}

func (NoopRecorder) ObserveVerification(string, string, time.Duration)     {}
func (NoopRecorder) ObserveRPC(string, error, time.Duration)               {}
func (NoopRecorder) ObserveRelay(string, time.Duration)                    {}
func (NoopRecorder) ObserveProvider(string, error, time.Duration)          {}
func (NoopRecorder) ObserveHTTPRequest(string, string, int, time.Duration) {}
func (NoopRecorder) SetConsumedPayments(int)                               {}
