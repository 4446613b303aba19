package uart

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/envnode/internal/monitoring"
)

var logf = monitoring.Prefixed("uart")

// pollTimeout is the read timeout used to emulate a non-blocking receive.
// go.bug.st/serial returns (0, nil) once it expires.
const pollTimeout = time.Millisecond

// Opener opens a serial device. Tests replace it to avoid real hardware.
type Opener func(path string, mode *serial.Mode) (serial.Port, error)

// SerialPort adapts a go.bug.st/serial port to Port.
type SerialPort struct {
	mu   sync.Mutex
	port serial.Port
	path string
	buf  [1]byte
}

// Open opens path with opts using go.bug.st/serial.
func Open(path string, opts PortOptions) (*SerialPort, error) {
	return OpenWith(serial.Open, path, opts)
}

// OpenWith opens path through open. It is Open with an injectable opener.
func OpenWith(open Opener, path string, opts PortOptions) (*SerialPort, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("serial options for %s: %w", path, err)
	}
	p, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	if err := p.SetReadTimeout(pollTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	logf("opened %s at %s", path, opts)
	return &SerialPort{port: p, path: path}, nil
}

// Wrap adapts an already opened serial.Port. The caller is responsible for
// having set a short read timeout.
func Wrap(p serial.Port, path string) *SerialPort {
	return &SerialPort{port: p, path: path}
}

func (s *SerialPort) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.port.Read(s.buf[:])
	if err != nil {
		return 0, classify(err)
	}
	if n == 0 {
		return 0, ErrWouldBlock
	}
	return s.buf[0], nil
}

func (s *SerialPort) WriteByte(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

func (s *SerialPort) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for total < len(p) {
		n, err := s.port.Write(p[total:])
		total += n
		if err != nil {
			return total, fmt.Errorf("write %s: %w", s.path, err)
		}
		if n == 0 {
			return total, fmt.Errorf("write %s: short write", s.path)
		}
	}
	return total, nil
}

// ClearError discards whatever the driver buffered around the fault.
func (s *SerialPort) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.port.ResetInputBuffer(); err != nil {
		logf("reset input buffer on %s: %v", s.path, err)
	}
}

// Close releases the device.
func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

func classify(err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortClosed, serial.PortNotFound:
			return fmt.Errorf("serial port gone: %w", err)
		}
	}
	return &HardwareError{Kind: FaultIO, Err: err}
}
