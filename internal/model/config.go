// Package model defines the data structures for telloctl's configuration, run
// records, and identifiers.
package model

type Config struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`

	Workspace WorkspaceConfig `yaml:"workspace"`
	Vehicle   VehicleConfig   `yaml:"vehicle"`
	Runner    RunnerConfig    `yaml:"runner"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Record    RecordConfig    `yaml:"record"`
	Programs  ProgramsConfig  `yaml:"programs"`
	Feed      FeedConfig      `yaml:"feed"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type WorkspaceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Created string `yaml:"created"`
}

type VehicleConfig struct {
	Address            string  `yaml:"address"`
	CommandPort        int     `yaml:"command_port"`
	StatePort          int     `yaml:"state_port"`
	ResponseTimeoutSec float64 `yaml:"response_timeout_sec"`
	ConnectTimeoutSec  float64 `yaml:"connect_timeout_sec"`
}

type RunnerConfig struct {
	DefaultPauseSec float64 `yaml:"default_pause_sec"`
}

type MonitorConfig struct {
	RefreshIntervalSec float64 `yaml:"refresh_interval_sec"`
}

type RecordConfig struct {
	SampleRateSec float64 `yaml:"sample_rate_sec"`
	MaxSamples    int     `yaml:"max_samples"`
	OutputDir     string  `yaml:"output_dir"`
}

type ProgramsConfig struct {
	Dir         string  `yaml:"dir"`
	Watch       bool    `yaml:"watch"`
	DebounceSec float64 `yaml:"debounce_sec"`
}

type FeedConfig struct {
	DeviceID   string     `yaml:"device_id"`
	IntervalMs int        `yaml:"interval_ms"`
	MQTT       MQTTConfig `yaml:"mqtt"`
	Hub        HubConfig  `yaml:"hub"`
}

type MQTTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	PrivateKeyPath string `yaml:"private_key_path"` // RS256 key; when set, a signed JWT replaces the password
	TokenAudience  string `yaml:"token_audience"`
	TopicPrefix    string `yaml:"topic_prefix"`
	QoS            int    `yaml:"qos"`
}

type HubConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	AuditChecksum bool   `yaml:"audit_checksum"`
}

type NotifyConfig struct {
	Desktop bool `yaml:"desktop"`
}
