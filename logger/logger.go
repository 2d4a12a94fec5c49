package logger

// Logger is the structured logger used across the gateway. Fields are
// attached as key/value pairs.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)

	// With returns a logger that adds fields to every entry.
	With(fields map[string]any) Logger
	Sync() error
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
func (n NoopLogger) With(map[string]any) Logger { return n }
func (NoopLogger) Sync() error                  { return nil }
