package frame

import (
	"errors"
	"fmt"
)

// ErrFrameDecode is the recoverable class of receive errors: malformed
// stuffing or a truncated frame. Callers drop the frame and keep polling.
var ErrFrameDecode = errors.New("frame decode failed")

var (
	ErrZeroCode   = fmt.Errorf("%w: zero count byte inside stream", ErrFrameDecode)
	ErrTruncated  = fmt.Errorf("%w: stream truncated", ErrFrameDecode)
	ErrOutputFull = fmt.Errorf("%w: output buffer exhausted", ErrFrameDecode)
)

// ErrCapacity means a buffer is too small for the frame being built. With the
// sizes derived from MaxSamples it is unreachable; seeing it means the sizing
// constants and the configured sample count disagree.
var ErrCapacity = errors.New("frame buffer too small")

// Errors reported by Verify.
var (
	ErrShortFrame = errors.New("frame shorter than header and footer")
	ErrBadMagic   = errors.New("frame magic mismatch")
	ErrHeaderCRC  = errors.New("header crc16 mismatch")
	ErrLength     = errors.New("header length does not match frame size")
	ErrBodyCRC    = errors.New("body crc32 mismatch")
)
