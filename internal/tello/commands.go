package tello

import (
	"fmt"
	"strconv"
	"time"
)

// Battery returns the charge percentage. The state feed is preferred; when
// it is missing or stale the driver falls back to a direct query.
func (d *Driver) Battery() (int, error) {
	if snap, ok := d.store.Latest(); ok && time.Since(snap.ReceivedAt) <= stateStaleAfter {
		return snap.Battery, nil
	}

	resp, err := d.query("battery?")
	if err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(resp)
	if err != nil {
		return 0, fmt.Errorf("battery response '%s': %w", resp, err)
	}
	return pct, nil
}

func (d *Driver) TakeOff() error {
	if err := d.control("takeoff"); err != nil {
		return err
	}
	d.setFlying(true)
	return nil
}

func (d *Driver) Land() error {
	if err := d.control("land"); err != nil {
		return err
	}
	d.setFlying(false)
	return nil
}

// Emergency stops all motors immediately. The firmware does not always
// answer, so the response is not checked.
func (d *Driver) Emergency() error {
	_, err := d.sendCommand("emergency")
	d.setFlying(false)
	return err
}

func (d *Driver) MoveUp(cm int) error      { return d.move("up", cm) }
func (d *Driver) MoveDown(cm int) error    { return d.move("down", cm) }
func (d *Driver) MoveLeft(cm int) error    { return d.move("left", cm) }
func (d *Driver) MoveRight(cm int) error   { return d.move("right", cm) }
func (d *Driver) MoveForward(cm int) error { return d.move("forward", cm) }
func (d *Driver) MoveBack(cm int) error    { return d.move("back", cm) }

func (d *Driver) RotateClockwise(deg int) error        { return d.rotate("cw", deg) }
func (d *Driver) RotateCounterClockwise(deg int) error { return d.rotate("ccw", deg) }

// Flip accepts the four SDK direction tokens: l, r, f, b.
func (d *Driver) Flip(direction string) error {
	switch direction {
	case "l", "r", "f", "b":
	default:
		return fmt.Errorf("flip direction must be one of l, r, f, b, got '%s'", direction)
	}
	return d.control("flip " + direction)
}

func (d *Driver) move(direction string, cm int) error {
	if cm < MinMoveDistanceCm || cm > MaxMoveDistanceCm {
		return fmt.Errorf("distance must be between %d and %d cm, got %d", MinMoveDistanceCm, MaxMoveDistanceCm, cm)
	}
	return d.control(fmt.Sprintf("%s %d", direction, cm))
}

func (d *Driver) rotate(direction string, deg int) error {
	if deg < MinRotateDegrees || deg > MaxRotateDegrees {
		return fmt.Errorf("rotation must be between %d and %d degrees, got %d", MinRotateDegrees, MaxRotateDegrees, deg)
	}
	return d.control(fmt.Sprintf("%s %d", direction, deg))
}
