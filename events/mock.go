package events

import (
	"context"
	"sync"
)

// MockPublisher records events in memory.
type MockPublisher struct {
	mu     sync.RWMutex
	events []*PaymentEvent
	err    error
	closed bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, event *PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetError makes every following Publish fail with err.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Events returns a copy of everything published so far.
func (m *MockPublisher) Events() []*PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PaymentEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
