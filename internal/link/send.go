package link

import (
	"fmt"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/report"
)

// SendError reports a batch send that stopped at one report. The reports
// before Resume were written and must not be sent again; a retry passes
// Resume to SendBatchFrom.
type SendError struct {
	Resume int
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s report: %v", report.ChannelTypes[e.Resume], e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SendBatch transmits the non-empty reports of batch in channel order, one
// metrics-report frame each, and drops the link back to NotReady once all of
// them are written so the next batch handshakes again.
//
// With Cooperative, an unready link yields ErrNotReady. With BoundedWait the
// bridge wakes the radio and polls for the handshake first, returning
// ErrLinkTimeout if it never comes; frames are then written in paced chunks.
// The first encode or write failure aborts the remaining reports and is
// returned as a *SendError; the link stays Ready in that case.
func (b *Bridge) SendBatch(batch *report.Batch, strategy Strategy) error {
	return b.SendBatchFrom(batch, strategy, 0)
}

// SendBatchFrom is SendBatch starting at channel slot from, skipping the
// reports an earlier interrupted attempt already delivered.
func (b *Bridge) SendBatchFrom(batch *report.Batch, strategy Strategy, from int) error {
	if from < 0 || from > len(batch.Reports) {
		return fmt.Errorf("send batch: resume slot %d out of range", from)
	}
	if b.state != Ready {
		switch strategy {
		case Cooperative:
			return ErrNotReady
		case BoundedWait:
			if err := b.awaitReady(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("send batch: unknown %s", strategy)
		}
	}

	pace := strategy == BoundedWait
	sent := 0
	for i := from; i < len(batch.Reports); i++ {
		r := &batch.Reports[i]
		if r.Count == 0 {
			continue
		}
		if sent > 0 && b.reportGap > 0 {
			b.clock.Sleep(b.reportGap)
		}
		n, err := r.MarshalTo(b.payload[:])
		if err != nil {
			return &SendError{Resume: i, Err: err}
		}
		seq := b.seq
		if err := b.sendFrame(frame.CmdMetricsReport, b.payload[:n], pace); err != nil {
			return &SendError{Resume: i, Err: err}
		}
		logf("sent %s report seq=%d samples=%d", r.Type, seq, r.Count)
		sent++
	}

	b.stats.BatchesSent.Add(1)
	b.transition(NotReady, "batch delivered")
	return nil
}

// SendHeartbeat writes an empty heartbeat frame. It needs a Ready link but
// leaves it Ready.
func (b *Bridge) SendHeartbeat() error {
	if b.state != Ready {
		return ErrNotReady
	}
	if err := b.sendFrame(frame.CmdHeartbeat, nil, false); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	return nil
}

// awaitReady sends a wake pulse and polls for the handshake for at most
// handshakeSteps steps, re-sending the pulse every resendEvery steps.
func (b *Bridge) awaitReady() error {
	b.flush()
	b.pulse()
	b.transition(AwaitingReady, "bounded wait")

	for step := 0; step < b.handshakeSteps; step++ {
		if step > 0 && step%b.resendEvery == 0 {
			b.pulse()
		}
		ev := b.Poll()
		if ev.Kind != EventNone && ev.Kind != EventPeerReady && b.onEvent != nil {
			b.onEvent(ev)
		}
		if b.state == Ready {
			return nil
		}
		b.clock.Sleep(b.stepDelay)
	}

	b.stats.LinkTimeouts.Add(1)
	b.transition(NotReady, "handshake timeout")
	return fmt.Errorf("%w after %d steps", ErrLinkTimeout, b.handshakeSteps)
}

// sendFrame encodes payload with the next sequence number and writes it.
// The sequence is consumed by every encoded frame, written in full or not,
// so a retried frame never reuses the number of a torn one. After a failed
// write a lone delimiter goes out first to close whatever part of the torn
// frame reached the radio.
func (b *Bridge) sendFrame(cmd uint16, payload []byte, pace bool) error {
	n, err := b.enc.Encode(b.tx[:], cmd, payload, b.seq)
	if err != nil {
		return err
	}
	b.seq++
	if b.torn {
		if err := b.port.WriteByte(frame.Delimiter); err != nil {
			return err
		}
		b.torn = false
	}
	if err := b.write(b.tx[:n], pace); err != nil {
		b.torn = true
		return err
	}
	b.stats.FramesSent.Add(1)
	b.stats.BytesSent.Add(uint64(n))
	return nil
}

func (b *Bridge) write(p []byte, pace bool) error {
	if !pace || b.paceBytes <= 0 {
		_, err := b.port.Write(p)
		return err
	}
	for len(p) > 0 {
		chunk := p
		if len(chunk) > b.paceBytes {
			chunk = chunk[:b.paceBytes]
		}
		if _, err := b.port.Write(chunk); err != nil {
			return err
		}
		p = p[len(chunk):]
		if len(p) > 0 && b.paceDelay > 0 {
			b.clock.Sleep(b.paceDelay)
		}
	}
	return nil
}
