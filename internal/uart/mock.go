package uart

import (
	"bytes"
	"sync"
)

type rxItem struct {
	b     byte
	fault *HardwareError
}

// MockPort implements Port for testing. Received bytes and receiver faults
// are queued with Feed and InjectFault; a fault latches like a real UART
// error flag, so ReadByte keeps failing until ClearError is called.
type MockPort struct {
	mu sync.Mutex

	rx      []rxItem
	latched *HardwareError
	tx      bytes.Buffer

	writeErr error
	onWrite  func([]byte)

	reads  int
	writes int
	clears int
}

// NewMockPort returns an empty MockPort.
func NewMockPort() *MockPort {
	return &MockPort{}
}

// Feed queues bytes to be returned by ReadByte.
func (m *MockPort) Feed(b ...byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range b {
		m.rx = append(m.rx, rxItem{b: c})
	}
}

// InjectFault queues a receiver fault after any bytes already fed.
func (m *MockPort) InjectFault(kind FaultKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = append(m.rx, rxItem{fault: &HardwareError{Kind: kind}})
}

// SetWriteError makes every write fail with err until cleared with nil.
func (m *MockPort) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// OnWrite registers fn to observe every successful write. fn runs without
// the port lock held, so it may Feed replies.
func (m *MockPort) OnWrite(fn func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

func (m *MockPort) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.latched != nil {
		return 0, m.latched
	}
	if len(m.rx) == 0 {
		return 0, ErrWouldBlock
	}
	it := m.rx[0]
	m.rx = m.rx[1:]
	if it.fault != nil {
		m.latched = it.fault
		return 0, it.fault
	}
	return it.b, nil
}

func (m *MockPort) WriteByte(b byte) error {
	_, err := m.Write([]byte{b})
	return err
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	m.writes++
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	m.tx.Write(p)
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), p...))
	}
	return len(p), nil
}

func (m *MockPort) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	m.latched = nil
}

// Written returns a copy of everything written so far.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.tx.Bytes())
}

// ResetWritten discards the write log.
func (m *MockPort) ResetWritten() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tx.Reset()
}

// Pending returns the number of queued receive items.
func (m *MockPort) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rx)
}

// Clears returns how many times ClearError was called.
func (m *MockPort) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// Calls returns the number of ReadByte and Write calls.
func (m *MockPort) Calls() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}
