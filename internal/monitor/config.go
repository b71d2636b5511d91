package monitor

import (
	"time"

	"github.com/dj-oyu/baby-safety-monitor/internal/config"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

// Config defines the runtime configuration for the monitor server.
type Config struct {
	AdvertisePort int
	CORSOrigins   []string
	// MJPEGInterval is the longest gap between two MJPEG parts; the last
	// frame (or a blank one) is repeated when nothing new arrived.
	MJPEGInterval time.Duration
	PollInterval  time.Duration
	RecordingPath string
	FrameWidth    int
	FrameHeight   int
}

// DefaultConfig returns a config aligned with the existing Flask monitor behavior.
func DefaultConfig() Config {
	return Config{
		AdvertisePort: 5001,
		CORSOrigins: []string{
			"http://localhost:5004",
			"http://localhost:51977",
			"http://127.0.0.1:5004",
		},
		MJPEGInterval: 5 * time.Second,
		PollInterval:  2 * time.Second,
		RecordingPath: "./recordings",
		FrameWidth:    types.DefaultFrameWidth,
		FrameHeight:   types.DefaultFrameHeight,
	}
}

// ConfigFrom maps the application config onto the server config.
func ConfigFrom(c config.Config) Config {
	return Config{
		AdvertisePort: c.Server.AdvertisePort,
		CORSOrigins:   c.Server.CORSOrigins,
		MJPEGInterval: c.Server.MJPEGInterval,
		PollInterval:  c.Server.PollInterval,
		RecordingPath: c.Server.RecordingPath,
		FrameWidth:    c.Pipeline.FrameWidth,
		FrameHeight:   c.Pipeline.FrameHeight,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AdvertisePort <= 0 {
		c.AdvertisePort = def.AdvertisePort
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = def.CORSOrigins
	}
	if c.MJPEGInterval <= 0 {
		c.MJPEGInterval = def.MJPEGInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RecordingPath == "" {
		c.RecordingPath = def.RecordingPath
	}
	if c.FrameWidth <= 0 {
		c.FrameWidth = def.FrameWidth
	}
	if c.FrameHeight <= 0 {
		c.FrameHeight = def.FrameHeight
	}
	return c
}
