// Package uart is the byte-oriented serial transport between the node and
// its companion radio.
package uart

import (
	"errors"
	"fmt"
)

// Port is a non-blocking byte transport. ReadByte returns ErrWouldBlock when
// nothing is pending and a *HardwareError when the receiver flagged a line
// fault; after a HardwareError the caller must call ClearError before the
// receiver delivers data again.
type Port interface {
	ReadByte() (byte, error)
	WriteByte(b byte) error
	Write(p []byte) (int, error)
	ClearError()
}

// ErrWouldBlock means no received byte is pending.
var ErrWouldBlock = errors.New("uart: no data pending")

// FaultKind classifies a receiver fault.
type FaultKind int

const (
	FaultOverrun FaultKind = iota
	FaultFraming
	FaultParity
	FaultNoise
	FaultIO
)

func (k FaultKind) String() string {
	switch k {
	case FaultOverrun:
		return "overrun"
	case FaultFraming:
		return "framing"
	case FaultParity:
		return "parity"
	case FaultNoise:
		return "noise"
	default:
		return "io"
	}
}

// HardwareError reports a transient receiver fault. It is always recoverable
// with Port.ClearError.
type HardwareError struct {
	Kind FaultKind
	Err  error
}

func (e *HardwareError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("uart %s fault: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("uart %s fault", e.Kind)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// IsHardware reports whether err is a *HardwareError and returns it.
func IsHardware(err error) (*HardwareError, bool) {
	var he *HardwareError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}
