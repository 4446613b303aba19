// Command peersim plays the companion radio on a real serial port so a node
// can be exercised on the bench: it answers wake pulses, validates every
// frame and optionally pushes time-sync frames.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/envnode/internal/peer"
	"github.com/banshee-data/envnode/internal/uart"
	"github.com/banshee-data/envnode/internal/version"
)

var (
	port         = flag.String("port", "/dev/ttyUSB1", "Serial port connected to the node")
	baud         = flag.Int("baud", uart.DefaultBaudRate, "Baud rate")
	pulsesToWake = flag.Int("pulses", 1, "Wake pulses needed before the radio answers")
	idleTimeout  = flag.Duration("idle", peer.DefaultIdleTimeout, "Go back to sleep after this long without traffic (0 never sleeps)")
	syncOnWake   = flag.Bool("sync", true, "Send a time-sync frame after every handshake")
	statsEvery   = flag.Duration("stats", 30*time.Second, "Log counters at this interval (0 disables)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func companionOptions() []peer.Option {
	opts := []peer.Option{
		peer.WithPulsesToWake(*pulsesToWake),
		peer.WithIdleTimeout(*idleTimeout),
	}
	if *syncOnWake {
		opts = append(opts, peer.WithTimeSyncOnWake(func() uint64 {
			return uint64(time.Now().UnixMilli())
		}))
	}
	return opts
}

// pump feeds every byte read from p to c until ctx is done or the port
// fails. Receiver faults are cleared and skipped.
func pump(ctx context.Context, p uart.Port, c *peer.Companion) error {
	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		b, err := p.ReadByte()
		switch {
		case err == nil:
			buf[0] = b
			c.Feed(buf)
		case errors.Is(err, uart.ErrWouldBlock):
		default:
			if _, ok := uart.IsHardware(err); ok {
				log.Printf("receiver fault: %v", err)
				p.ClearError()
				continue
			}
			return err
		}
	}
}

func logStats(c *peer.Companion) {
	st := c.Stats()
	log.Printf("pulses=%d wakeups=%d handshakes=%d accepted=%d rejected=%d time-syncs=%d",
		st.WakePulses, st.Wakeups, st.Handshakes, st.FramesAccepted, st.FramesRejected, st.TimeSyncsSent)
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("peersim"))
		return
	}

	sp, err := uart.Open(*port, uart.PortOptions{BaudRate: *baud})
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}
	defer sp.Close()

	c := peer.New(func(b []byte) {
		if _, err := sp.Write(b); err != nil {
			log.Printf("write: %v", err)
		}
	}, companionOptions()...)
	log.Printf("%s listening on %s", version.String("peersim"), *port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *statsEvery > 0 {
		go func() {
			t := time.NewTicker(*statsEvery)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					logStats(c)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if err := pump(ctx, sp, c); err != nil {
		log.Printf("serial read: %v", err)
	}
	logStats(c)
}
