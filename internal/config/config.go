// Package config provides configuration loading and validation for the
// alarm processing agent.
//
// Configuration file: /etc/alarmcore/config.yaml (default)
// Schema version: 1
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. queue capacities > 0, tolerances >= 0).
//   - Invalid config on startup: agent refuses to start (fatal error).

package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime can be injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the alarm agent.
// All fields have defaults; see Defaults() for values.
type Config struct {
	SchemaVersion string `yaml:"schema_version"`
	NodeID        string `yaml:"node_id"`

	Transport     TransportConfig     `yaml:"transport"`
	Sensors       SensorsConfig       `yaml:"sensors"`
	Alarms        AlarmsConfig        `yaml:"alarms"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Queues        QueuesConfig        `yaml:"queues"`
	Operator      OperatorConfig      `yaml:"operator"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TransportConfig configures the TCP client used by the transport decoder.
type TransportConfig struct {
	TCPClient TCPClientConfig `yaml:"tcp_client"`
}

// TCPClientConfig holds the decoder's connection and framing parameters.
type TCPClientConfig struct {
	Host             string            `yaml:"host"`
	Port             int               `yaml:"port"`
	TimeoutS         float64           `yaml:"timeout_s"`
	MaxLineBytes     int               `yaml:"max_line_bytes"`
	ReconnectBackoff ReconnectBackoff  `yaml:"reconnect_backoff"`
}

// ReconnectBackoff holds the decoder's reconnect backoff bounds.
type ReconnectBackoff struct {
	InitMs int `yaml:"init_ms"`
	CapMs  int `yaml:"cap_ms"`
}

// SensorsConfig declares every scalar and spectral channel the agent
// expects to see readings for.
type SensorsConfig struct {
	ScalarConfigs   []ScalarSensorConfig   `yaml:"scalar_configs"`
	SpectralConfigs []SpectralSensorConfig `yaml:"spectral_configs"`
}

// ScalarSensorConfig declares one scalar sensor and its alarm limits.
type ScalarSensorConfig struct {
	Name      string  `yaml:"name"`
	Units     string  `yaml:"units"`
	LowLimit  float64 `yaml:"low_limit"`
	HighLimit float64 `yaml:"high_limit"`
}

// SpectralSensorConfig declares one spectral channel.
type SpectralSensorConfig struct {
	Name               string `yaml:"name"`
	Length             int    `yaml:"length"`
	ReferencePeakIndex *int   `yaml:"reference_peak_index,omitempty"`
}

// AlarmsConfig configures the alarm engine's hysteresis and the
// optional cross-sensor criteria.
type AlarmsConfig struct {
	ValueEps            float64            `yaml:"value_eps"`
	EnableScalarLimits  bool               `yaml:"enable_scalar_limits"`
	TempDiff            *TempDiffConfig    `yaml:"temp_diff,omitempty"`
	FTIRPeakShift       *FTIRPeakShiftConfig `yaml:"ftir_peak_shift,omitempty"`
	StaleTimeoutS       *float64           `yaml:"stale_timeout_s,omitempty"`
}

// TempDiffConfig configures the temperature-differential criterion.
type TempDiffConfig struct {
	Enabled  bool      `yaml:"enabled"`
	Pair     [2]string `yaml:"pair"`
	Delta    float64   `yaml:"delta"`
	Severity string    `yaml:"severity"`
}

// FTIRPeakShiftConfig configures the FTIR peak-shift criterion.
type FTIRPeakShiftConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Channel       string `yaml:"channel"`
	ToleranceBins int    `yaml:"tolerance_bins"`
	Severity      string `yaml:"severity"`
}

// NotificationsConfig configures outbound alarm-event delivery.
type NotificationsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig holds the notification worker's HTTP delivery parameters.
type WebhookConfig struct {
	URL             string  `yaml:"url"`
	BearerToken     string  `yaml:"bearer_token,omitempty"`
	VerifyTLS       bool    `yaml:"verify_tls"`
	ConnectTimeoutS float64 `yaml:"connect_timeout_s"`
	TotalTimeoutS   float64 `yaml:"total_timeout_s"`
	Retries         int     `yaml:"retries"`
}

// QueuesConfig sets the bounded-queue capacities shared across the pipeline.
type QueuesConfig struct {
	ReadingsCapacity      int `yaml:"readings_capacity"`
	NotificationsCapacity int `yaml:"notifications_capacity"`
}

// OperatorConfig holds the operator control-plane socket parameters.
type OperatorConfig struct {
	SocketPath string `yaml:"socket_path"`
	Enabled    bool   `yaml:"enabled"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Transport: TransportConfig{
			TCPClient: TCPClientConfig{
				Host:         "127.0.0.1",
				Port:         9500,
				TimeoutS:     10,
				MaxLineBytes: 65536,
				ReconnectBackoff: ReconnectBackoff{
					InitMs: 500,
					CapMs:  30000,
				},
			},
		},
		Alarms: AlarmsConfig{
			ValueEps:           0.01,
			EnableScalarLimits: true,
		},
		Notifications: NotificationsConfig{
			Webhook: WebhookConfig{
				VerifyTLS:       true,
				ConnectTimeoutS: 5,
				TotalTimeoutS:   10,
				Retries:         3,
			},
		},
		Queues: QueuesConfig{
			ReadingsCapacity:      1024,
			NotificationsCapacity: 512,
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/alarmcore/operator.sock",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, aggregating every
// violation found via multierr rather than stopping at the first one.
func Validate(cfg *Config) error {
	var err error

	if cfg.SchemaVersion != "1" {
		err = multierr.Append(err, fmt.Errorf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		err = multierr.Append(err, fmt.Errorf("node_id must not be empty"))
	}

	tc := cfg.Transport.TCPClient
	if tc.Host == "" {
		err = multierr.Append(err, fmt.Errorf("transport.tcp_client.host must not be empty"))
	}
	if tc.Port < 1 || tc.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("transport.tcp_client.port must be in [1, 65535], got %d", tc.Port))
	}
	if tc.MaxLineBytes < 1 {
		err = multierr.Append(err, fmt.Errorf("transport.tcp_client.max_line_bytes must be >= 1, got %d", tc.MaxLineBytes))
	}
	if tc.ReconnectBackoff.InitMs < 1 {
		err = multierr.Append(err, fmt.Errorf("transport.tcp_client.reconnect_backoff.init_ms must be >= 1, got %d", tc.ReconnectBackoff.InitMs))
	}
	if tc.ReconnectBackoff.CapMs < tc.ReconnectBackoff.InitMs {
		err = multierr.Append(err, fmt.Errorf("transport.tcp_client.reconnect_backoff.cap_ms must be >= init_ms"))
	}

	for _, s := range cfg.Sensors.ScalarConfigs {
		if s.Name == "" {
			err = multierr.Append(err, fmt.Errorf("sensors.scalar_configs: name must not be empty"))
		}
		if s.HighLimit < s.LowLimit {
			err = multierr.Append(err, fmt.Errorf("sensors.scalar_configs[%s]: high_limit must be >= low_limit", s.Name))
		}
	}
	for _, s := range cfg.Sensors.SpectralConfigs {
		if s.Name == "" {
			err = multierr.Append(err, fmt.Errorf("sensors.spectral_configs: name must not be empty"))
		}
		if s.Length < 1 {
			err = multierr.Append(err, fmt.Errorf("sensors.spectral_configs[%s]: length must be >= 1", s.Name))
		}
	}

	if cfg.Alarms.ValueEps < 0 {
		err = multierr.Append(err, fmt.Errorf("alarms.value_eps must be >= 0, got %g", cfg.Alarms.ValueEps))
	}
	if td := cfg.Alarms.TempDiff; td != nil && td.Enabled {
		if td.Pair[0] == "" || td.Pair[1] == "" {
			err = multierr.Append(err, fmt.Errorf("alarms.temp_diff.pair requires two sensor names"))
		}
		if td.Delta < 0 {
			err = multierr.Append(err, fmt.Errorf("alarms.temp_diff.delta must be >= 0, got %g", td.Delta))
		}
	}
	if fp := cfg.Alarms.FTIRPeakShift; fp != nil && fp.Enabled {
		if fp.Channel == "" {
			err = multierr.Append(err, fmt.Errorf("alarms.ftir_peak_shift.channel must not be empty"))
		}
		if fp.ToleranceBins < 0 {
			err = multierr.Append(err, fmt.Errorf("alarms.ftir_peak_shift.tolerance_bins must be >= 0, got %d", fp.ToleranceBins))
		}
	}
	if cfg.Alarms.StaleTimeoutS != nil && *cfg.Alarms.StaleTimeoutS <= 0 {
		err = multierr.Append(err, fmt.Errorf("alarms.stale_timeout_s must be > 0 when set"))
	}

	wh := cfg.Notifications.Webhook
	if wh.URL == "" {
		err = multierr.Append(err, fmt.Errorf("notifications.webhook.url must not be empty"))
	}
	if wh.ConnectTimeoutS <= 0 {
		err = multierr.Append(err, fmt.Errorf("notifications.webhook.connect_timeout_s must be > 0, got %g", wh.ConnectTimeoutS))
	}
	if wh.TotalTimeoutS <= 0 {
		err = multierr.Append(err, fmt.Errorf("notifications.webhook.total_timeout_s must be > 0, got %g", wh.TotalTimeoutS))
	}
	if wh.Retries < 1 {
		err = multierr.Append(err, fmt.Errorf("notifications.webhook.retries must be >= 1, got %d", wh.Retries))
	}

	if cfg.Queues.ReadingsCapacity < 1 {
		err = multierr.Append(err, fmt.Errorf("queues.readings_capacity must be >= 1, got %d", cfg.Queues.ReadingsCapacity))
	}
	if cfg.Queues.NotificationsCapacity < 1 {
		err = multierr.Append(err, fmt.Errorf("queues.notifications_capacity must be >= 1, got %d", cfg.Queues.NotificationsCapacity))
	}

	if cfg.Operator.Enabled && cfg.Operator.SocketPath == "" {
		err = multierr.Append(err, fmt.Errorf("operator.socket_path must not be empty when operator.enabled is true"))
	}

	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("observability.log_level must be one of debug|info|warn|error, got %q", cfg.Observability.LogLevel))
	}
	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("observability.log_format must be one of json|console, got %q", cfg.Observability.LogFormat))
	}

	return err
}

// TimeoutDuration converts a seconds value from the YAML schema to a
// time.Duration.
func TimeoutDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
