package uart

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakeSerial implements serial.Port over in-memory buffers.
type fakeSerial struct {
	rx         bytes.Buffer
	tx         bytes.Buffer
	readErr    error
	timeout    time.Duration
	resets     int
	closed     bool
	shortWrite bool
}

func (f *fakeSerial) SetMode(*serial.Mode) error { return nil }
func (f *fakeSerial) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if f.rx.Len() == 0 {
		return 0, nil
	}
	return f.rx.Read(p)
}
func (f *fakeSerial) Write(p []byte) (int, error) {
	if f.shortWrite && len(p) > 1 {
		p = p[:1]
	}
	return f.tx.Write(p)
}
func (f *fakeSerial) Drain() error             { return nil }
func (f *fakeSerial) ResetInputBuffer() error  { f.resets++; f.rx.Reset(); return nil }
func (f *fakeSerial) ResetOutputBuffer() error { return nil }
func (f *fakeSerial) SetDTR(bool) error        { return nil }
func (f *fakeSerial) SetRTS(bool) error        { return nil }
func (f *fakeSerial) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}
func (f *fakeSerial) SetReadTimeout(t time.Duration) error { f.timeout = t; return nil }
func (f *fakeSerial) Close() error                         { f.closed = true; return nil }
func (f *fakeSerial) Break(time.Duration) error            { return nil }

func openFake(t *testing.T, fake *fakeSerial) *SerialPort {
	t.Helper()
	var gotMode *serial.Mode
	open := func(path string, mode *serial.Mode) (serial.Port, error) {
		gotMode = mode
		return fake, nil
	}
	p, err := OpenWith(open, "/dev/ttyFAKE", PortOptions{})
	if err != nil {
		t.Fatalf("OpenWith() error = %v", err)
	}
	if gotMode.BaudRate != DefaultBaudRate {
		t.Errorf("opened at %d baud, want %d", gotMode.BaudRate, DefaultBaudRate)
	}
	if fake.timeout != pollTimeout {
		t.Errorf("read timeout = %v, want %v", fake.timeout, pollTimeout)
	}
	return p
}

func TestSerialPort_ReadByte(t *testing.T) {
	fake := &fakeSerial{}
	p := openFake(t, fake)

	if _, err := p.ReadByte(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("ReadByte() on empty port error = %v, want ErrWouldBlock", err)
	}

	fake.rx.Write([]byte{0x52, 0x00})
	for _, want := range []byte{0x52, 0x00} {
		b, err := p.ReadByte()
		if err != nil || b != want {
			t.Fatalf("ReadByte() = %#x, %v; want %#x", b, err, want)
		}
	}

	fake.readErr = errors.New("input/output error")
	_, err := p.ReadByte()
	if _, ok := IsHardware(err); !ok {
		t.Fatalf("ReadByte() error = %v, want HardwareError", err)
	}

	p.ClearError()
	if fake.resets != 1 {
		t.Errorf("ResetInputBuffer calls = %d, want 1", fake.resets)
	}
}

func TestSerialPort_WriteLoopsOnShortWrites(t *testing.T) {
	fake := &fakeSerial{shortWrite: true}
	p := openFake(t, fake)

	n, err := p.Write([]byte{1, 2, 3, 4})
	if err != nil || n != 4 {
		t.Fatalf("Write() = %d, %v; want 4, nil", n, err)
	}
	if err := p.WriteByte(5); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fake.tx.Bytes(), []byte{1, 2, 3, 4, 5}) {
		t.Errorf("written = % x", fake.tx.Bytes())
	}

	if err := p.Close(); err != nil || !fake.closed {
		t.Errorf("Close() = %v, closed = %v", err, fake.closed)
	}
}

func TestOpenWith_Errors(t *testing.T) {
	open := func(string, *serial.Mode) (serial.Port, error) { return nil, errors.New("busy") }
	if _, err := OpenWith(open, "/dev/x", PortOptions{}); err == nil {
		t.Error("expected open error")
	}
	if _, err := OpenWith(open, "/dev/x", PortOptions{BaudRate: 7}); err == nil {
		t.Error("expected options error")
	}
}
