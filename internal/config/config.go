package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Capture  CaptureConfig  `yaml:"capture" json:"capture"`
	Tracker  TrackerConfig  `yaml:"tracker" json:"tracker"`
	Output   OutputConfig   `yaml:"output" json:"output"`
	Bridge   BridgeConfig   `yaml:"bridge" json:"bridge"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	Upload   UploadConfig   `yaml:"upload" json:"upload"`
	Feedback FeedbackConfig `yaml:"feedback" json:"feedback"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// CaptureConfig contains system audio loopback parameters
type CaptureConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Backend        string `yaml:"backend" json:"backend"` // auto, wasapi, portaudio
	DeviceID       string `yaml:"device_id" json:"device_id"`
	DeviceName     string `yaml:"device_name" json:"device_name"`
	Retention      int    `yaml:"retention" json:"retention"`               // seconds, 0 = unbounded
	BufferMs       int    `yaml:"buffer_ms" json:"buffer_ms"`               // milliseconds
	PollIntervalMs int    `yaml:"poll_interval_ms" json:"poll_interval_ms"` // milliseconds
}

// TrackerConfig contains output stream tracking parameters
type TrackerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Purpose    string `yaml:"purpose" json:"purpose"`
	NamePrefix string `yaml:"name_prefix" json:"name_prefix"`
	Retention  int    `yaml:"retention" json:"retention"` // seconds
	BlockMs    int    `yaml:"block_ms" json:"block_ms"`   // milliseconds
}

// OutputConfig controls where recordings are saved
type OutputConfig struct {
	Dir     string `yaml:"dir" json:"dir"` // empty = Documents/AudioLogger
	Archive bool   `yaml:"archive" json:"archive"`
}

// BridgeConfig contains the UDP host bridge configuration
type BridgeConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	UDPPort     int    `yaml:"udp_port" json:"udp_port"`
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size"`
	Workers     int    `yaml:"workers" json:"workers"`
	QueueSize   int    `yaml:"queue_size" json:"queue_size"`
	MaxStreams  int    `yaml:"max_streams" json:"max_streams"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// UploadConfig contains archive delivery configuration
type UploadConfig struct {
	Kind       string `yaml:"kind" json:"kind"` // none, http, s3
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	APIKey     string `yaml:"api_key" json:"-"`
	Bucket     string `yaml:"bucket" json:"bucket"`
	Prefix     string `yaml:"prefix" json:"prefix"`
	Region     string `yaml:"region" json:"region"`
	Timeout    int    `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// FeedbackConfig controls the start and stop tones
type FeedbackConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Enabled:        true,
			Backend:        "auto",
			DeviceID:       "default",
			Retention:      60,
			BufferMs:       1000,
			PollIntervalMs: 200,
		},
		Tracker: TrackerConfig{
			Enabled:    true,
			Purpose:    "speech",
			NamePrefix: "WavePlayer",
			Retention:  80,
			BlockMs:    200,
		},
		Output: OutputConfig{Archive: true},
		Bridge: BridgeConfig{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			UDPPort:     4455,
			BufferSize:  65536,
			Workers:     4,
			QueueSize:   1000,
			MaxStreams:  64,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8085,
		},
		Upload: UploadConfig{
			Kind:       "none",
			Timeout:    60,
			MaxRetries: 3,
		},
		Feedback: FeedbackConfig{Enabled: true},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and parses the configuration file. Settings missing from the
// file keep their defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}

	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if c.Upload.Kind != "none" && c.Upload.Kind != "" && !c.Output.Archive {
		return fmt.Errorf("upload requires output.archive to be enabled")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	validBackends := map[string]bool{"auto": true, "wasapi": true, "portaudio": true}
	if !validBackends[c.Backend] {
		return fmt.Errorf("backend must be one of [auto, wasapi, portaudio], got '%s'", c.Backend)
	}

	if c.Retention < 0 {
		return fmt.Errorf("retention cannot be negative, got %d", c.Retention)
	}

	if c.BufferMs < 10 || c.BufferMs > 10000 {
		return fmt.Errorf("buffer_ms must be between 10 and 10000, got %d", c.BufferMs)
	}

	if c.PollIntervalMs < 1 || c.PollIntervalMs > c.BufferMs {
		return fmt.Errorf("poll_interval_ms must be between 1 and buffer_ms (%d), got %d", c.BufferMs, c.PollIntervalMs)
	}

	return nil
}

// Validate validates tracker configuration
func (t *TrackerConfig) Validate() error {
	if t.Purpose != "speech" && t.Purpose != "sounds" {
		return fmt.Errorf("purpose must be 'speech' or 'sounds', got '%s'", t.Purpose)
	}

	if t.NamePrefix == "" {
		return fmt.Errorf("name_prefix cannot be empty")
	}

	if t.Retention < 1 {
		return fmt.Errorf("retention must be at least 1 second, got %d", t.Retention)
	}

	if t.BlockMs < 10 || t.BlockMs > 5000 {
		return fmt.Errorf("block_ms must be between 10 and 5000, got %d", t.BlockMs)
	}

	return nil
}

// Validate validates bridge configuration
func (b *BridgeConfig) Validate() error {
	if !b.Enabled {
		return nil
	}

	if b.UDPPort < 1 || b.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", b.UDPPort)
	}

	if b.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if b.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", b.BufferSize)
	}

	if b.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", b.Workers)
	}

	if b.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", b.QueueSize)
	}

	if b.MaxStreams < 1 {
		return fmt.Errorf("max_streams must be at least 1, got %d", b.MaxStreams)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	switch u.Kind {
	case "", "none":
		return nil
	case "http":
		if u.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for http uploads")
		}
	case "s3":
		if u.Bucket == "" {
			return fmt.Errorf("bucket cannot be empty for s3 uploads")
		}
	default:
		return fmt.Errorf("kind must be one of [none, http, s3], got '%s'", u.Kind)
	}

	if u.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", u.Timeout)
	}

	if u.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", u.MaxRetries)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.IsFile() && l.MaxSizeMB < 1 {
		return fmt.Errorf("max_size_mb must be at least 1 for file output, got %d", l.MaxSizeMB)
	}

	return nil
}

// IsFile reports whether logs go to a file rather than a standard stream
func (l *LoggingConfig) IsFile() bool {
	return l.Output != "" && l.Output != "stdout" && l.Output != "stderr"
}

// GetRetentionDuration returns the capture retention as a time.Duration
func (c *CaptureConfig) GetRetentionDuration() time.Duration {
	return time.Duration(c.Retention) * time.Second
}

// GetBufferDuration returns the device buffer length as a time.Duration
func (c *CaptureConfig) GetBufferDuration() time.Duration {
	return time.Duration(c.BufferMs) * time.Millisecond
}

// GetPollInterval returns the idle poll interval as a time.Duration
func (c *CaptureConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// GetRetentionDuration returns the idle eviction window as a time.Duration
func (t *TrackerConfig) GetRetentionDuration() time.Duration {
	return time.Duration(t.Retention) * time.Second
}

// GetBlockDuration returns the sub-block length as a time.Duration
func (t *TrackerConfig) GetBlockDuration() time.Duration {
	return time.Duration(t.BlockMs) * time.Millisecond
}

// GetTimeoutDuration returns the upload timeout as a time.Duration
func (u *UploadConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}
