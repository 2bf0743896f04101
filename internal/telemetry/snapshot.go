// Package telemetry parses the Tello state feed and caches the latest
// snapshot for display, recording, and publishing.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one decoded state packet. Distances are centimeters, speeds
// centimeters per second, angles degrees, temperatures degrees Celsius.
// Barometer is the absolute height estimate in centimeters.
type Snapshot struct {
	Pitch       int     `json:"pitch"`
	Roll        int     `json:"roll"`
	Yaw         int     `json:"yaw"`
	SpeedX      int     `json:"speed_x"`
	SpeedY      int     `json:"speed_y"`
	SpeedZ      int     `json:"speed_z"`
	TempLow     int     `json:"temp_low"`
	TempHigh    int     `json:"temp_high"`
	TOFDistance int     `json:"tof_distance"`
	Height      int     `json:"height"`
	Battery     int     `json:"battery"`
	Barometer   float64 `json:"barometer"`
	FlightTime  int     `json:"flight_time"`
	AccelX      float64 `json:"accel_x"`
	AccelY      float64 `json:"accel_y"`
	AccelZ      float64 `json:"accel_z"`

	ReceivedAt time.Time `json:"received_at"`
}

// Temperature is the midpoint of the two onboard temperature sensors.
func (s Snapshot) Temperature() float64 {
	return float64(s.TempLow+s.TempHigh) / 2.0
}

// ParseState decodes a raw state packet of the form
// "pitch:0;roll:0;yaw:0;vgx:0;...". Unknown keys and unparseable values are
// skipped. The caller stamps ReceivedAt.
func ParseState(raw string) (Snapshot, error) {
	var snap Snapshot
	parsed := 0

	assignInt := func(dst *int, value string) {
		if n, err := strconv.Atoi(value); err == nil {
			*dst = n
			parsed++
		}
	}
	assignFloat := func(dst *float64, value string) {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			*dst = f
			parsed++
		}
	}

	for _, pair := range strings.Split(strings.TrimSpace(raw), ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		switch key {
		case "pitch":
			assignInt(&snap.Pitch, value)
		case "roll":
			assignInt(&snap.Roll, value)
		case "yaw":
			assignInt(&snap.Yaw, value)
		case "vgx":
			assignInt(&snap.SpeedX, value)
		case "vgy":
			assignInt(&snap.SpeedY, value)
		case "vgz":
			assignInt(&snap.SpeedZ, value)
		case "templ":
			assignInt(&snap.TempLow, value)
		case "temph":
			assignInt(&snap.TempHigh, value)
		case "tof":
			assignInt(&snap.TOFDistance, value)
		case "h":
			assignInt(&snap.Height, value)
		case "bat":
			assignInt(&snap.Battery, value)
		case "time":
			assignInt(&snap.FlightTime, value)
		case "baro":
			// Reported in meters; kept in centimeters like every other
			// distance.
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				snap.Barometer = f * 100
				parsed++
			}
		case "agx":
			assignFloat(&snap.AccelX, value)
		case "agy":
			assignFloat(&snap.AccelY, value)
		case "agz":
			assignFloat(&snap.AccelZ, value)
		}
	}

	if parsed == 0 {
		return Snapshot{}, fmt.Errorf("malformed state packet: %q", raw)
	}
	return snap, nil
}
