package telemetry

import (
	"testing"
	"time"
)

func TestStore_LatestBeforeFirstUpdate(t *testing.T) {
	s := NewStore()
	if _, ok := s.Latest(); ok {
		t.Error("empty store reported a snapshot")
	}
	if _, ok := s.ConsumeDirty(); ok {
		t.Error("empty store reported a dirty snapshot")
	}
}

func TestStore_ConsumeDirtyOncePerUpdate(t *testing.T) {
	s := NewStore()
	s.Update(Snapshot{Battery: 80, ReceivedAt: time.Now()})

	snap, ok := s.ConsumeDirty()
	if !ok || snap.Battery != 80 {
		t.Fatalf("first consume: ok=%v snap=%+v", ok, snap)
	}
	if _, ok := s.ConsumeDirty(); ok {
		t.Error("second consume without an update should report clean")
	}

	// Latest keeps answering after the dirty flag is consumed.
	if snap, ok := s.Latest(); !ok || snap.Battery != 80 {
		t.Errorf("Latest after consume: ok=%v snap=%+v", ok, snap)
	}

	s.Update(Snapshot{Battery: 79})
	if snap, ok := s.ConsumeDirty(); !ok || snap.Battery != 79 {
		t.Errorf("consume after second update: ok=%v snap=%+v", ok, snap)
	}
}
