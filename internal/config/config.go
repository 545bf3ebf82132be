package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"proctorwire/internal/controller"
	"proctorwire/internal/pipeline"
	"proctorwire/internal/tracker"
	"proctorwire/internal/violation"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// The relay reads Database, HTTP, WebSocket and Relay; the client commands
// read Pipeline, Tracker, Reconnect and Violation
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Relay     *RelayConfig     `json:"relay"`
	Pipeline  *PipelineConfig  `json:"pipeline"`
	Tracker   *TrackerConfig   `json:"tracker"`
	Reconnect *ReconnectConfig `json:"reconnect"`
	Violation *ViolationConfig `json:"violation"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration sized for exam-room bursts
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// RelayConfig tunes routing and the session monitor.
type RelayConfig struct {
	RateLimit     int           `json:"rate_limit"`
	RateWindow    time.Duration `json:"rate_window"`
	StatsInterval time.Duration `json:"stats_interval"`
}

// PipelineConfig mirrors pipeline.Config.
type PipelineConfig struct {
	FlushInterval       time.Duration `json:"flush_interval"`
	MaxBufferSize       int           `json:"max_buffer_size"`
	EnablePriorityQueue bool          `json:"enable_priority_queue"`
	EnableDeduplication bool          `json:"enable_deduplication"`
}

// TrackerConfig mirrors tracker.Config.
type TrackerConfig struct {
	ProgressDebounce  time.Duration `json:"progress_debounce"`
	HighlightDebounce time.Duration `json:"highlight_debounce"`
}

// ReconnectConfig holds the controller's heartbeat and backoff settings.
type ReconnectConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	BaseDelay         time.Duration `json:"base_delay"`
	Multiplier        float64       `json:"multiplier"`
	MaxDelay          time.Duration `json:"max_delay"`
	Jitter            float64       `json:"jitter"`
	MaxAttempts       int           `json:"max_attempts"`
}

// ViolationConfig tunes the detectors.
type ViolationConfig struct {
	Enabled              bool          `json:"enabled"`
	EnableBlocking       bool          `json:"enable_blocking"`
	BlurGrace            time.Duration `json:"blur_grace"`
	DevToolsPollInterval time.Duration `json:"devtools_poll_interval"`
	DevToolsThreshold    int           `json:"devtools_threshold"`
}

// DefaultConfig returns the production defaults of every section
func DefaultConfig() *Config {
	p := pipeline.DefaultConfig()
	tr := tracker.DefaultConfig()
	cc := controller.DefaultConfig()
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/proctorwire.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Relay: &RelayConfig{
			RateLimit:     100,
			RateWindow:    time.Minute,
			StatsInterval: 10 * time.Second,
		},
		Pipeline: &PipelineConfig{
			FlushInterval:       p.FlushInterval,
			MaxBufferSize:       p.MaxBufferSize,
			EnablePriorityQueue: p.EnablePriorityQueue,
			EnableDeduplication: p.EnableDeduplication,
		},
		Tracker: &TrackerConfig{
			ProgressDebounce:  tr.ProgressDebounce,
			HighlightDebounce: tr.HighlightDebounce,
		},
		Reconnect: &ReconnectConfig{
			HeartbeatInterval: cc.HeartbeatInterval,
			BaseDelay:         cc.Backoff.BaseDelay,
			Multiplier:        cc.Backoff.Multiplier,
			MaxDelay:          cc.Backoff.MaxDelay,
			Jitter:            cc.Backoff.Jitter,
			MaxAttempts:       cc.Backoff.MaxAttempts,
		},
		Violation: &ViolationConfig{
			Enabled:              true,
			BlurGrace:            500 * time.Millisecond,
			DevToolsPollInterval: time.Second,
			DevToolsThreshold:    160,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.RateLimit <= 0 || c.Relay.RateWindow <= 0 {
		return fmt.Errorf("relay rate limit and window must be positive")
	}
	if c.Relay.StatsInterval <= 0 {
		return fmt.Errorf("relay stats interval must be positive")
	}

	if c.Pipeline == nil {
		return fmt.Errorf("pipeline configuration is required")
	}
	if c.Pipeline.FlushInterval <= 0 || c.Pipeline.MaxBufferSize <= 0 {
		return fmt.Errorf("pipeline flush interval and buffer size must be positive")
	}

	if c.Tracker == nil {
		return fmt.Errorf("tracker configuration is required")
	}
	if c.Tracker.ProgressDebounce <= 0 || c.Tracker.HighlightDebounce <= 0 {
		return fmt.Errorf("tracker debounce windows must be positive")
	}

	if c.Reconnect == nil {
		return fmt.Errorf("reconnect configuration is required")
	}
	if c.Reconnect.HeartbeatInterval <= 0 || c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect delays must be positive with max_delay >= base_delay")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be at least 1")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("reconnect jitter must be between 0 and 1")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect max attempts must be positive")
	}

	if c.Violation == nil {
		return fmt.Errorf("violation configuration is required")
	}
	if c.Violation.BlurGrace < 0 || c.Violation.DevToolsPollInterval <= 0 || c.Violation.DevToolsThreshold <= 0 {
		return fmt.Errorf("violation detector settings must be positive")
	}
	return nil
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// PipelineOptions converts the pipeline section.
func (c *Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		FlushInterval:       c.Pipeline.FlushInterval,
		MaxBufferSize:       c.Pipeline.MaxBufferSize,
		EnablePriorityQueue: c.Pipeline.EnablePriorityQueue,
		EnableDeduplication: c.Pipeline.EnableDeduplication,
	}
}

// TrackerOptions converts the tracker section.
func (c *Config) TrackerOptions() tracker.Config {
	return tracker.Config{
		ProgressDebounce:  c.Tracker.ProgressDebounce,
		HighlightDebounce: c.Tracker.HighlightDebounce,
	}
}

// ControllerOptions builds a controller config for url and the given identity.
func (c *Config) ControllerOptions(url, userID, role string) controller.Config {
	cc := controller.DefaultConfig()
	cc.URL = url
	cc.UserID = userID
	cc.Role = role
	cc.HeartbeatInterval = c.Reconnect.HeartbeatInterval
	cc.Backoff = controller.BackoffConfig{
		BaseDelay:   c.Reconnect.BaseDelay,
		Multiplier:  c.Reconnect.Multiplier,
		MaxDelay:    c.Reconnect.MaxDelay,
		Jitter:      c.Reconnect.Jitter,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
	return cc
}

// ViolationOptions converts the violation section. Callbacks, clock and
// logger are left for the caller.
func (c *Config) ViolationOptions() violation.Options {
	return violation.Options{
		Enabled:              c.Violation.Enabled,
		EnableBlocking:       c.Violation.EnableBlocking,
		BlurGrace:            c.Violation.BlurGrace,
		DevToolsPollInterval: c.Violation.DevToolsPollInterval,
		DevToolsThreshold:    c.Violation.DevToolsThreshold,
	}
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Malformed values are ignored and the previous value kept
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("PROCTORWIRE_DATABASE_PATH", &config.Database.Path)
	envDuration("PROCTORWIRE_DATABASE_TIMEOUT", &config.Database.Timeout)
	envInt("PROCTORWIRE_DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)

	envInt("PROCTORWIRE_HTTP_PORT", &config.HTTP.Port)
	envString("PROCTORWIRE_HTTP_HOST", &config.HTTP.Host)
	envDuration("PROCTORWIRE_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("PROCTORWIRE_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("PROCTORWIRE_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("PROCTORWIRE_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("PROCTORWIRE_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("PROCTORWIRE_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)

	envInt("PROCTORWIRE_RELAY_RATE_LIMIT", &config.Relay.RateLimit)
	envDuration("PROCTORWIRE_RELAY_RATE_WINDOW", &config.Relay.RateWindow)
	envDuration("PROCTORWIRE_RELAY_STATS_INTERVAL", &config.Relay.StatsInterval)

	envDuration("PROCTORWIRE_PIPELINE_FLUSH_INTERVAL", &config.Pipeline.FlushInterval)
	envInt("PROCTORWIRE_PIPELINE_MAX_BUFFER_SIZE", &config.Pipeline.MaxBufferSize)
	envBool("PROCTORWIRE_PIPELINE_ENABLE_PRIORITY_QUEUE", &config.Pipeline.EnablePriorityQueue)
	envBool("PROCTORWIRE_PIPELINE_ENABLE_DEDUPLICATION", &config.Pipeline.EnableDeduplication)

	envDuration("PROCTORWIRE_TRACKER_PROGRESS_DEBOUNCE", &config.Tracker.ProgressDebounce)
	envDuration("PROCTORWIRE_TRACKER_HIGHLIGHT_DEBOUNCE", &config.Tracker.HighlightDebounce)

	envDuration("PROCTORWIRE_RECONNECT_HEARTBEAT_INTERVAL", &config.Reconnect.HeartbeatInterval)
	envDuration("PROCTORWIRE_RECONNECT_BASE_DELAY", &config.Reconnect.BaseDelay)
	envDuration("PROCTORWIRE_RECONNECT_MAX_DELAY", &config.Reconnect.MaxDelay)
	envInt("PROCTORWIRE_RECONNECT_MAX_ATTEMPTS", &config.Reconnect.MaxAttempts)

	envBool("PROCTORWIRE_VIOLATION_ENABLED", &config.Violation.Enabled)
	envBool("PROCTORWIRE_VIOLATION_ENABLE_BLOCKING", &config.Violation.EnableBlocking)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// LoadConfigWithPrecedence layers defaults, then environment, then the file.
// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults;
// command-line flags are applied on top by the caller
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
