package peer

import "github.com/banshee-data/envnode/internal/uart"

// Attach wires a companion to a mock port: everything the node writes to
// port is fed to the companion and the companion's replies become bytes the
// node can read.
func Attach(port *uart.MockPort, opts ...Option) *Companion {
	p := New(func(b []byte) { port.Feed(b...) }, opts...)
	port.OnWrite(p.Feed)
	return p
}
