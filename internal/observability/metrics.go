// Package observability exposes Prometheus metrics for the feed daemon:
// vehicle telemetry gauges and flight run counters, fed from the event bus.
package observability

import (
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airdeck/telloctl/internal/events"
	"github.com/airdeck/telloctl/internal/telemetry"
)

// FlightCollector bundles Prometheus metrics for one vehicle feed and
// provides the /metrics handler to expose them.
type FlightCollector struct {
	gatherer prometheus.Gatherer

	Battery     prometheus.Gauge
	Height      prometheus.Gauge
	Temperature prometheus.Gauge
	Speed       prometheus.Gauge
	FlightTime  prometheus.Gauge

	TelemetryUpdates prometheus.Counter
	Runs             *prometheus.CounterVec
	Steps            prometheus.Counter
	CommandFailures  prometheus.Counter
}

// NewFlightCollector registers flight metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewFlightCollector(reg prometheus.Registerer) (*FlightCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	battery, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tello_battery_percent",
		Help: "Battery charge reported by the last state packet.",
	}), "tello_battery_percent")
	if err != nil {
		return nil, err
	}
	height, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tello_height_cm",
		Help: "Height above the takeoff point in centimeters.",
	}), "tello_height_cm")
	if err != nil {
		return nil, err
	}
	temperature, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tello_temperature_celsius",
		Help: "Midpoint of the onboard temperature sensors.",
	}), "tello_temperature_celsius")
	if err != nil {
		return nil, err
	}
	speed, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tello_speed_cm_s",
		Help: "Magnitude of the ground speed vector in centimeters per second.",
	}), "tello_speed_cm_s")
	if err != nil {
		return nil, err
	}
	flightTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tello_flight_time_seconds",
		Help: "Accumulated motor-on time reported by the vehicle.",
	}), "tello_flight_time_seconds")
	if err != nil {
		return nil, err
	}

	updates, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tello_telemetry_updates_total",
		Help: "Total number of state packets decoded from the vehicle.",
	}), "tello_telemetry_updates_total")
	if err != nil {
		return nil, err
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_runs_total",
		Help: "Total number of flight program runs, labeled by outcome.",
	}, []string{"outcome"})
	runs, err = registerCounterVec(reg, runs, "flight_runs_total")
	if err != nil {
		return nil, err
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flight_steps_total",
		Help: "Total number of flight program steps dispatched to the vehicle.",
	}), "flight_steps_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tello_command_failures_total",
		Help: "Total number of vehicle commands rejected or timed out during runs.",
	}), "tello_command_failures_total")
	if err != nil {
		return nil, err
	}

	return &FlightCollector{
		gatherer:         gatherer,
		Battery:          battery,
		Height:           height,
		Temperature:      temperature,
		Speed:            speed,
		FlightTime:       flightTime,
		TelemetryUpdates: updates,
		Runs:             runs,
		Steps:            steps,
		CommandFailures:  failures,
	}, nil
}

// ObserveTelemetry updates the vehicle gauges from one decoded snapshot.
func (c *FlightCollector) ObserveTelemetry(snap telemetry.Snapshot) {
	if c == nil {
		return
	}
	if c.Battery != nil {
		c.Battery.Set(float64(snap.Battery))
	}
	if c.Height != nil {
		c.Height.Set(float64(snap.Height))
	}
	if c.Temperature != nil {
		c.Temperature.Set(snap.Temperature())
	}
	if c.Speed != nil {
		x, y, z := float64(snap.SpeedX), float64(snap.SpeedY), float64(snap.SpeedZ)
		c.Speed.Set(math.Sqrt(x*x + y*y + z*z))
	}
	if c.FlightTime != nil {
		c.FlightTime.Set(float64(snap.FlightTime))
	}
	if c.TelemetryUpdates != nil {
		c.TelemetryUpdates.Inc()
	}
}

// Attach subscribes the run counters to the event bus. The returned function
// removes the subscriptions.
func (c *FlightCollector) Attach(bus *events.Bus) func() {
	if c == nil || bus == nil {
		return func() {}
	}
	return bus.SubscribeRunEvents(func(e events.Event) {
		switch e.Type {
		case events.EventRunStarted:
			c.Runs.WithLabelValues("started").Inc()
		case events.EventRunStep:
			c.Steps.Inc()
		case events.EventRunCompleted:
			c.Runs.WithLabelValues("completed").Inc()
		case events.EventRunFailed:
			c.Runs.WithLabelValues("failed").Inc()
			// A run that died on a rejected vehicle command also counts
			// against the command failure total.
			if msg, ok := e.Data["message"].(string); ok && strings.HasPrefix(msg, "Command '") {
				c.CommandFailures.Inc()
			}
		}
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FlightCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
