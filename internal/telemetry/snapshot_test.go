package telemetry

import (
	"math"
	"strings"
	"testing"
)

const samplePacket = "pitch:2;roll:-1;yaw:45;vgx:10;vgy:-3;vgz:0;templ:82;temph:85;tof:32;h:110;bat:87;baro:223.81;time:42;agx:-5.00;agy:-9.00;agz:-999.00;\r\n"

func TestParseState_FullPacket(t *testing.T) {
	snap, err := ParseState(samplePacket)
	if err != nil {
		t.Fatalf("ParseState failed: %v", err)
	}

	if snap.Pitch != 2 || snap.Roll != -1 || snap.Yaw != 45 {
		t.Errorf("attitude: %+v", snap)
	}
	if snap.SpeedX != 10 || snap.SpeedY != -3 || snap.SpeedZ != 0 {
		t.Errorf("speed: %+v", snap)
	}
	if snap.TempLow != 82 || snap.TempHigh != 85 {
		t.Errorf("temperature range: %+v", snap)
	}
	if snap.TOFDistance != 32 || snap.Height != 110 {
		t.Errorf("distances: %+v", snap)
	}
	if snap.Battery != 87 {
		t.Errorf("battery: %d", snap.Battery)
	}
	if math.Abs(snap.Barometer-22381.0) > 0.01 {
		t.Errorf("barometer not converted to cm: %v", snap.Barometer)
	}
	if snap.FlightTime != 42 {
		t.Errorf("flight time: %d", snap.FlightTime)
	}
	if snap.AccelX != -5.0 || snap.AccelY != -9.0 || snap.AccelZ != -999.0 {
		t.Errorf("acceleration: %+v", snap)
	}
}

func TestParseState_Temperature(t *testing.T) {
	snap, err := ParseState("templ:82;temph:85;")
	if err != nil {
		t.Fatalf("ParseState failed: %v", err)
	}
	if snap.Temperature() != 83.5 {
		t.Errorf("temperature midpoint: got %v, want 83.5", snap.Temperature())
	}
}

func TestParseState_SkipsUnknownAndBrokenFields(t *testing.T) {
	snap, err := ParseState("bat:55;mid:-1;x:0;bogus;h:notanumber;yaw:90;")
	if err != nil {
		t.Fatalf("ParseState failed: %v", err)
	}
	if snap.Battery != 55 || snap.Yaw != 90 {
		t.Errorf("known fields lost: %+v", snap)
	}
	if snap.Height != 0 {
		t.Errorf("broken field should stay zero: %d", snap.Height)
	}
}

func TestParseState_Malformed(t *testing.T) {
	for _, raw := range []string{"", "garbage", "a;b;c", ":::"} {
		if _, err := ParseState(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		} else if !strings.Contains(err.Error(), "malformed state packet") {
			t.Errorf("unexpected error for %q: %v", raw, err)
		}
	}
}

func TestStore_LatestAndDirty(t *testing.T) {
	store := NewStore()

	if _, ok := store.Latest(); ok {
		t.Error("empty store should report no snapshot")
	}
	if _, ok := store.ConsumeDirty(); ok {
		t.Error("empty store should report nothing to consume")
	}

	store.Update(Snapshot{Battery: 80})

	snap, ok := store.Latest()
	if !ok || snap.Battery != 80 {
		t.Errorf("Latest after update: %+v, %v", snap, ok)
	}

	snap, ok = store.ConsumeDirty()
	if !ok || snap.Battery != 80 {
		t.Errorf("first consume: %+v, %v", snap, ok)
	}
	if _, ok := store.ConsumeDirty(); ok {
		t.Error("second consume without update should report clean")
	}

	// Latest keeps serving the snapshot after it was consumed.
	if snap, ok := store.Latest(); !ok || snap.Battery != 80 {
		t.Errorf("Latest after consume: %+v, %v", snap, ok)
	}

	store.Update(Snapshot{Battery: 79})
	if snap, ok := store.ConsumeDirty(); !ok || snap.Battery != 79 {
		t.Errorf("consume after second update: %+v, %v", snap, ok)
	}
}
