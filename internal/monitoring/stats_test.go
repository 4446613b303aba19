package monitoring

import "testing"

func TestLinkStats_Snapshot(t *testing.T) {
	var s LinkStats
	s.FramesSent.Add(3)
	s.BytesSent.Add(420)
	s.DecodeErrors.Add(1)
	s.LinkTimeouts.Add(2)

	snap := s.Snapshot()
	if snap.FramesSent != 3 {
		t.Errorf("FramesSent = %d, want 3", snap.FramesSent)
	}
	if snap.BytesSent != 420 {
		t.Errorf("BytesSent = %d, want 420", snap.BytesSent)
	}
	if snap.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", snap.DecodeErrors)
	}
	if snap.LinkTimeouts != 2 {
		t.Errorf("LinkTimeouts = %d, want 2", snap.LinkTimeouts)
	}
	if snap.Overruns != 0 {
		t.Errorf("Overruns = %d, want 0", snap.Overruns)
	}
}

func TestLinkStats_SnapshotNil(t *testing.T) {
	var s *LinkStats
	if got := s.Snapshot(); got != (Snapshot{}) {
		t.Errorf("nil Snapshot() = %+v, want zero value", got)
	}
}
