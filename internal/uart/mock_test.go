package uart

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPort_ReadQueue(t *testing.T) {
	p := NewMockPort()
	_, err := p.ReadByte()
	require.ErrorIs(t, err, ErrWouldBlock)

	p.Feed(0x01, 0x02)
	b, err := p.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), b)
	assert.Equal(t, 1, p.Pending())
}

func TestMockPort_FaultLatchesUntilCleared(t *testing.T) {
	p := NewMockPort()
	p.InjectFault(FaultOverrun)
	p.Feed(0xAB)

	for i := 0; i < 3; i++ {
		_, err := p.ReadByte()
		he, ok := IsHardware(err)
		require.True(t, ok, "read %d: want HardwareError, got %v", i, err)
		assert.Equal(t, FaultOverrun, he.Kind)
	}

	p.ClearError()
	assert.Equal(t, 1, p.Clears())
	b, err := p.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), b)
}

func TestMockPort_WritesAndHook(t *testing.T) {
	p := NewMockPort()
	var seen [][]byte
	p.OnWrite(func(b []byte) {
		seen = append(seen, b)
		p.Feed(0x52)
	})

	require.NoError(t, p.WriteByte(0x00))
	n, err := p.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, []byte{0, 1, 2, 3}, p.Written())
	assert.Equal(t, [][]byte{{0}, {1, 2, 3}}, seen)
	assert.Equal(t, 2, p.Pending())

	p.ResetWritten()
	assert.Empty(t, p.Written())
}

func TestMockPort_WriteError(t *testing.T) {
	p := NewMockPort()
	boom := errors.New("tx fault")
	p.SetWriteError(boom)
	_, err := p.Write([]byte{1})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, p.Written())

	p.SetWriteError(nil)
	assert.NoError(t, p.WriteByte(1))
}

func TestHardwareError_Message(t *testing.T) {
	inner := errors.New("EIO")
	err := error(&HardwareError{Kind: FaultIO, Err: inner})
	assert.Equal(t, "uart io fault: EIO", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "uart framing fault", (&HardwareError{Kind: FaultFraming}).Error())
}
