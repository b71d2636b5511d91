// Package config holds the runtime configuration of the safety monitor.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

// EnvPath names the environment variable consulted when no config path is given.
const EnvPath = "SAFETY_MONITOR_CONFIG"

// Config defines the runtime configuration. Alert thresholds are not part of it.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Archive  ArchiveConfig  `yaml:"archive"`
	WebRTC   WebRTCConfig   `yaml:"webrtc"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	AdvertisePort int           `yaml:"advertise_port"` // Port reported by /get_ip
	CORSOrigins   []string      `yaml:"cors_origins"`
	MJPEGInterval time.Duration `yaml:"mjpeg_interval"` // Longest gap between MJPEG parts
	PollInterval  time.Duration `yaml:"poll_interval"`  // Index page /get_alerts polling
	RecordingPath string        `yaml:"recording_path"` // Directory for /api/recording files
}

// PipelineConfig configures frame intake and annotation.
type PipelineConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	FrameDelay  time.Duration `yaml:"frame_delay"` // Replay pacing
	FrameWidth  int           `yaml:"frame_width"`
	FrameHeight int           `yaml:"frame_height"`
	Annotate    bool          `yaml:"annotate"`
	JPEGQuality int           `yaml:"jpeg_quality"`
}

// AlertsConfig configures ledger bookkeeping.
type AlertsConfig struct {
	Retention  time.Duration `yaml:"retention"`
	MaxHistory int           `yaml:"max_history"`
	Cooldown   time.Duration `yaml:"cooldown"`
}

// ArchiveConfig configures PostgreSQL persistence. An empty DSN disables it.
type ArchiveConfig struct {
	DSN        string `yaml:"dsn"`
	BufferSize int    `yaml:"buffer_size"`
}

// WebRTCConfig configures the alert data channel.
type WebRTCConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ICEServers []string `yaml:"ice_servers"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Color      bool   `yaml:"color"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a config aligned with the existing Flask monitor behavior.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":5001",
			AdvertisePort: 5001,
			CORSOrigins: []string{
				"http://localhost:5004",
				"http://localhost:51977",
				"http://127.0.0.1:5004",
			},
			MJPEGInterval: 5 * time.Second,
			PollInterval:  2 * time.Second,
			RecordingPath: "./recordings",
		},
		Pipeline: PipelineConfig{
			QueueSize:   32,
			FrameDelay:  100 * time.Millisecond,
			FrameWidth:  types.DefaultFrameWidth,
			FrameHeight: types.DefaultFrameHeight,
			Annotate:    true,
			JPEGQuality: 80,
		},
		Alerts: AlertsConfig{
			Retention:  alerts.DefaultWindow,
			MaxHistory: alerts.DefaultMaxHistory,
			Cooldown:   alerts.DefaultCooldown,
		},
		Archive: ArchiveConfig{
			BufferSize: 256,
		},
		WebRTC: WebRTCConfig{
			Enabled:    true,
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
		Log: LogConfig{
			Level:      "info",
			Color:      true,
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path falls back to
// $SAFETY_MONITOR_CONFIG; with neither set the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize))
	}
	if c.Pipeline.FrameDelay < 0 {
		errs = append(errs, fmt.Errorf("pipeline.frame_delay must not be negative, got %v", c.Pipeline.FrameDelay))
	}
	if c.Pipeline.FrameWidth <= 0 || c.Pipeline.FrameHeight <= 0 {
		errs = append(errs, fmt.Errorf("pipeline frame size must be positive, got %dx%d", c.Pipeline.FrameWidth, c.Pipeline.FrameHeight))
	}
	if c.Alerts.Retention < alerts.DefaultWindow {
		errs = append(errs, fmt.Errorf("alerts.retention must cover the %v summary window, got %v", alerts.DefaultWindow, c.Alerts.Retention))
	}
	if c.Archive.DSN != "" && c.Archive.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("archive.buffer_size must be positive, got %d", c.Archive.BufferSize))
	}
	return errors.Join(errs...)
}

// LedgerOptions maps the alert section onto ledger options.
func (c Config) LedgerOptions() alerts.Options {
	return alerts.Options{
		Retention:  c.Alerts.Retention,
		MaxHistory: c.Alerts.MaxHistory,
		Cooldown:   c.Alerts.Cooldown,
	}
}
