package model

// ApplyDefaults fills zero-valued config fields so a partial or missing
// config.yaml still yields a usable setup.
func ApplyDefaults(cfg Config) Config {
	if cfg.Vehicle.Address == "" {
		cfg.Vehicle.Address = "192.168.10.1"
	}
	if cfg.Vehicle.CommandPort <= 0 {
		cfg.Vehicle.CommandPort = 8889
	}
	if cfg.Vehicle.StatePort <= 0 {
		cfg.Vehicle.StatePort = 8890
	}
	if cfg.Vehicle.ResponseTimeoutSec <= 0 {
		cfg.Vehicle.ResponseTimeoutSec = 7
	}
	if cfg.Vehicle.ConnectTimeoutSec <= 0 {
		cfg.Vehicle.ConnectTimeoutSec = 5
	}
	if cfg.Runner.DefaultPauseSec <= 0 {
		cfg.Runner.DefaultPauseSec = 0.8
	}
	if cfg.Monitor.RefreshIntervalSec <= 0 {
		cfg.Monitor.RefreshIntervalSec = 0.5
	}
	if cfg.Record.SampleRateSec <= 0 {
		cfg.Record.SampleRateSec = 0.1
	}
	if cfg.Record.OutputDir == "" {
		cfg.Record.OutputDir = "flights"
	}
	if cfg.Programs.Dir == "" {
		cfg.Programs.Dir = "programs"
	}
	if cfg.Programs.DebounceSec <= 0 {
		cfg.Programs.DebounceSec = 0.5
	}
	if cfg.Feed.DeviceID == "" {
		cfg.Feed.DeviceID = "tello"
	}
	if cfg.Feed.IntervalMs <= 0 {
		cfg.Feed.IntervalMs = 1000
	}
	if cfg.Feed.MQTT.ClientID == "" {
		cfg.Feed.MQTT.ClientID = cfg.Feed.DeviceID
	}
	if cfg.Feed.MQTT.TopicPrefix == "" {
		cfg.Feed.MQTT.TopicPrefix = "/devices"
	}
	if cfg.Feed.MQTT.QoS < 0 || cfg.Feed.MQTT.QoS > 2 {
		cfg.Feed.MQTT.QoS = 1
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = "127.0.0.1:9090"
	}
	if cfg.Daemon.ShutdownTimeoutSec <= 0 {
		cfg.Daemon.ShutdownTimeoutSec = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg
}
