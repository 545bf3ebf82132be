package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFile represents the on-disk structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
// such as "30s"; pointers distinguish an explicit false or zero from absence
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database" yaml:"database"`
	HTTP      *HTTPConfigFile      `json:"http" yaml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" yaml:"websocket"`
	Relay     *RelayConfigFile     `json:"relay" yaml:"relay"`
	Pipeline  *PipelineConfigFile  `json:"pipeline" yaml:"pipeline"`
	Tracker   *TrackerConfigFile   `json:"tracker" yaml:"tracker"`
	Reconnect *ReconnectConfigFile `json:"reconnect" yaml:"reconnect"`
	Violation *ViolationConfigFile `json:"violation" yaml:"violation"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path" yaml:"path"`
	Timeout        string `json:"timeout" yaml:"timeout"`
	MaxConnections int    `json:"max_connections" yaml:"max_connections"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	Host         string `json:"host" yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	BufferSize   int    `json:"buffer_size" yaml:"buffer_size"`
}

type RelayConfigFile struct {
	RateLimit     int    `json:"rate_limit" yaml:"rate_limit"`
	RateWindow    string `json:"rate_window" yaml:"rate_window"`
	StatsInterval string `json:"stats_interval" yaml:"stats_interval"`
}

type PipelineConfigFile struct {
	FlushInterval       string `json:"flush_interval" yaml:"flush_interval"`
	MaxBufferSize       int    `json:"max_buffer_size" yaml:"max_buffer_size"`
	EnablePriorityQueue *bool  `json:"enable_priority_queue" yaml:"enable_priority_queue"`
	EnableDeduplication *bool  `json:"enable_deduplication" yaml:"enable_deduplication"`
}

type TrackerConfigFile struct {
	ProgressDebounce  string `json:"progress_debounce" yaml:"progress_debounce"`
	HighlightDebounce string `json:"highlight_debounce" yaml:"highlight_debounce"`
}

type ReconnectConfigFile struct {
	HeartbeatInterval string   `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	BaseDelay         string   `json:"base_delay" yaml:"base_delay"`
	Multiplier        float64  `json:"multiplier" yaml:"multiplier"`
	MaxDelay          string   `json:"max_delay" yaml:"max_delay"`
	Jitter            *float64 `json:"jitter" yaml:"jitter"`
	MaxAttempts       int      `json:"max_attempts" yaml:"max_attempts"`
}

type ViolationConfigFile struct {
	Enabled              *bool  `json:"enabled" yaml:"enabled"`
	EnableBlocking       *bool  `json:"enable_blocking" yaml:"enable_blocking"`
	BlurGrace            string `json:"blur_grace" yaml:"blur_grace"`
	DevToolsPollInterval string `json:"devtools_poll_interval" yaml:"devtools_poll_interval"`
	DevToolsThreshold    int    `json:"devtools_threshold" yaml:"devtools_threshold"`
}

// LoadFromFile reads a JSON or YAML file over the defaults
// TECHNICAL DISCOVERY: Format is chosen by extension; .yaml and .yml use YAML,
// anything else is parsed as JSON
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(config); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return nil
}

// durations collects the first parse failure across many fields.
type durations struct{ err error }

func (d *durations) set(field, value string, dst *time.Duration) {
	if value == "" || d.err != nil {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", field, err)
		return
	}
	*dst = parsed
}

func setString(value string, dst *string) {
	if value != "" {
		*dst = value
	}
}

func setInt(value int, dst *int) {
	if value > 0 {
		*dst = value
	}
}

func setBool(value *bool, dst *bool) {
	if value != nil {
		*dst = *value
	}
}

// apply copies every field present in the file onto config.
func (f *ConfigFile) apply(config *Config) error {
	var d durations

	if db := f.Database; db != nil {
		setString(db.Path, &config.Database.Path)
		d.set("database.timeout", db.Timeout, &config.Database.Timeout)
		setInt(db.MaxConnections, &config.Database.MaxConnections)
	}
	if h := f.HTTP; h != nil {
		setInt(h.Port, &config.HTTP.Port)
		setString(h.Host, &config.HTTP.Host)
		d.set("http.read_timeout", h.ReadTimeout, &config.HTTP.ReadTimeout)
		d.set("http.write_timeout", h.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if ws := f.WebSocket; ws != nil {
		d.set("websocket.ping_interval", ws.PingInterval, &config.WebSocket.PingInterval)
		d.set("websocket.read_timeout", ws.ReadTimeout, &config.WebSocket.ReadTimeout)
		d.set("websocket.write_timeout", ws.WriteTimeout, &config.WebSocket.WriteTimeout)
		setInt(ws.BufferSize, &config.WebSocket.BufferSize)
	}
	if r := f.Relay; r != nil {
		setInt(r.RateLimit, &config.Relay.RateLimit)
		d.set("relay.rate_window", r.RateWindow, &config.Relay.RateWindow)
		d.set("relay.stats_interval", r.StatsInterval, &config.Relay.StatsInterval)
	}
	if p := f.Pipeline; p != nil {
		d.set("pipeline.flush_interval", p.FlushInterval, &config.Pipeline.FlushInterval)
		setInt(p.MaxBufferSize, &config.Pipeline.MaxBufferSize)
		setBool(p.EnablePriorityQueue, &config.Pipeline.EnablePriorityQueue)
		setBool(p.EnableDeduplication, &config.Pipeline.EnableDeduplication)
	}
	if t := f.Tracker; t != nil {
		d.set("tracker.progress_debounce", t.ProgressDebounce, &config.Tracker.ProgressDebounce)
		d.set("tracker.highlight_debounce", t.HighlightDebounce, &config.Tracker.HighlightDebounce)
	}
	if r := f.Reconnect; r != nil {
		d.set("reconnect.heartbeat_interval", r.HeartbeatInterval, &config.Reconnect.HeartbeatInterval)
		d.set("reconnect.base_delay", r.BaseDelay, &config.Reconnect.BaseDelay)
		d.set("reconnect.max_delay", r.MaxDelay, &config.Reconnect.MaxDelay)
		if r.Multiplier > 0 {
			config.Reconnect.Multiplier = r.Multiplier
		}
		if r.Jitter != nil {
			config.Reconnect.Jitter = *r.Jitter
		}
		setInt(r.MaxAttempts, &config.Reconnect.MaxAttempts)
	}
	if v := f.Violation; v != nil {
		setBool(v.Enabled, &config.Violation.Enabled)
		setBool(v.EnableBlocking, &config.Violation.EnableBlocking)
		d.set("violation.blur_grace", v.BlurGrace, &config.Violation.BlurGrace)
		d.set("violation.devtools_poll_interval", v.DevToolsPollInterval, &config.Violation.DevToolsPollInterval)
		setInt(v.DevToolsThreshold, &config.Violation.DevToolsThreshold)
	}
	return d.err
}
