package sink

import (
	"errors"
	"sync"
)

// ErrMockPublish is returned by MockSink while failures are armed
var ErrMockPublish = errors.New("mock publish failure")

// MockSink records published messages in memory
type MockSink struct {
	mu       sync.Mutex
	messages []MockMessage
	failures int
	closed   bool
}

type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return ErrMockPublish
	}
	m.messages = append(m.messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// FailNext makes the next n publishes fail
func (m *MockSink) FailNext(n int) {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
}

// Messages returns a copy of everything published so far
func (m *MockSink) Messages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.messages...)
}

func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
