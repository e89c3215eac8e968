package comm

import (
	"context"
	"sync"
)

// MockTransport is a scriptable, in-memory Transport for tests and device simulators.
//
// Outbound lines are recorded and optionally forwarded to a send hook; inbound lines and
// disconnect edges are injected by the test through InjectLine and TriggerDisconnect.
type MockTransport struct {
	mu                sync.Mutex
	connected         bool
	sentLines         []string
	sendErr           error
	sendHook          func(line string)
	lineHandler       LineHandler
	disconnectHandler DisconnectHandler
}

var _ Transport = (*MockTransport)(nil)

// NewMockTransport creates a disconnected MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Connect(_ context.Context, _ string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return ErrAlreadyConnected
	}
	m.connected = true

	return nil
}

func (m *MockTransport) Start() error { return nil }

func (m *MockTransport) Stop() {
	m.TriggerDisconnect()
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected
}

func (m *MockTransport) SendLine(line string) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	m.sentLines = append(m.sentLines, line)
	hook := m.sendHook
	m.mu.Unlock()

	if hook != nil {
		hook(line)
	}

	return nil
}

func (m *MockTransport) SetLineHandler(fn LineHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lineHandler = fn
}

func (m *MockTransport) SetDisconnectHandler(fn DisconnectHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disconnectHandler = fn
}

// SetSendError makes subsequent SendLine calls fail with err.
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendErr = err
}

// SetSendHook registers a function invoked, outside the mock's lock, for every line
// accepted by SendLine. Device simulators use it to script replies.
func (m *MockTransport) SetSendHook(fn func(line string)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendHook = fn
}

// SentLines returns a copy of all lines accepted so far.
func (m *MockTransport) SentLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]string, len(m.sentLines))
	copy(lines, m.sentLines)

	return lines
}

// InjectLine delivers one CRLF-stripped inbound line to the registered handler.
func (m *MockTransport) InjectLine(line string) {
	m.mu.Lock()
	handler := m.lineHandler
	m.mu.Unlock()

	if handler != nil {
		handler(line)
	}
}

// TriggerDisconnect performs the connected-to-disconnected edge, invoking the
// disconnect handler synchronously so tests stay deterministic.
func (m *MockTransport) TriggerDisconnect() {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	handler := m.disconnectHandler
	m.mu.Unlock()

	if handler != nil {
		handler()
	}
}
