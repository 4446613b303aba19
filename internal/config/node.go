// Package config loads the node's JSON configuration. Every field is
// optional; Get* accessors supply the default for anything left out.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/link"
	"github.com/banshee-data/envnode/internal/sensor"
	"github.com/banshee-data/envnode/internal/uart"
)

// DefaultConfigPath is the checked-in defaults file.
const DefaultConfigPath = "config/envnode.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// NodeConfig is the root configuration of the node daemon.
type NodeConfig struct {
	Port   *string           `json:"port,omitempty"`
	Serial *uart.PortOptions `json:"serial,omitempty"`

	// Strategy is "cooperative" or "bounded-wait".
	Strategy *string `json:"strategy,omitempty"`

	SampleInterval      *string `json:"sample_interval,omitempty"` // duration string like "1s"
	Capacity            *int    `json:"capacity,omitempty"`
	WakeRetryIterations *int    `json:"wake_retry_iterations,omitempty"`
	IdleSleep           *string `json:"idle_sleep,omitempty"`
	HeartbeatInterval   *string `json:"heartbeat_interval,omitempty"` // empty disables

	DBPath        *string `json:"db_path,omitempty"`
	ReplayBacklog *bool   `json:"replay_backlog,omitempty"`
	AdminListen   *string `json:"admin_listen,omitempty"` // empty disables

	Link    *LinkConfig   `json:"link,omitempty"`
	Sensors *SensorConfig `json:"sensors,omitempty"`
}

// LinkConfig tunes the handshake loop and write pacing.
type LinkConfig struct {
	HandshakeSteps *int    `json:"handshake_steps,omitempty"`
	ResendEvery    *int    `json:"resend_every,omitempty"`
	StepDelay      *string `json:"step_delay,omitempty"`
	PaceBytes      *int    `json:"pace_bytes,omitempty"`
	PaceDelay      *string `json:"pace_delay,omitempty"`
	ReportGap      *string `json:"report_gap,omitempty"`
}

// SensorConfig points each channel at a numeric sysfs file.
type SensorConfig struct {
	Temperature *SensorSource `json:"temperature,omitempty"`
	Humidity    *SensorSource `json:"humidity,omitempty"`
	Illuminance *SensorSource `json:"illuminance,omitempty"`
}

// SensorSource is read as raw*Scale + Offset.
type SensorSource struct {
	Path   string  `json:"path"`
	Scale  float64 `json:"scale,omitempty"`
	Offset float64 `json:"offset,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyNodeConfig returns a NodeConfig with all fields unset.
func EmptyNodeConfig() *NodeConfig {
	return &NodeConfig{}
}

// LoadNodeConfig loads a NodeConfig from a JSON file. The file must have a
// .json extension and be under 1MB.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyNodeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validDuration(name string, v *string, allowZero bool) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 || (!allowZero && d == 0) {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *NodeConfig) Validate() error {
	if c.Strategy != nil {
		if _, err := link.ParseStrategy(*c.Strategy); err != nil {
			return err
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if c.Capacity != nil && (*c.Capacity < 1 || *c.Capacity > frame.MaxSamples) {
		return fmt.Errorf("capacity must be between 1 and %d, got %d", frame.MaxSamples, *c.Capacity)
	}
	if c.WakeRetryIterations != nil && *c.WakeRetryIterations < 1 {
		return fmt.Errorf("wake_retry_iterations must be positive, got %d", *c.WakeRetryIterations)
	}
	if err := validDuration("sample_interval", c.SampleInterval, false); err != nil {
		return err
	}
	if err := validDuration("idle_sleep", c.IdleSleep, true); err != nil {
		return err
	}
	if err := validDuration("heartbeat_interval", c.HeartbeatInterval, true); err != nil {
		return err
	}
	if d := c.GetSampleInterval(); d%time.Millisecond != 0 || d/time.Millisecond > 1<<32-1 {
		return fmt.Errorf("sample_interval must be a whole number of milliseconds that fits u32, got %s", d)
	}

	if l := c.Link; l != nil {
		if l.HandshakeSteps != nil && *l.HandshakeSteps < 1 {
			return fmt.Errorf("link.handshake_steps must be positive, got %d", *l.HandshakeSteps)
		}
		if l.ResendEvery != nil && *l.ResendEvery < 1 {
			return fmt.Errorf("link.resend_every must be positive, got %d", *l.ResendEvery)
		}
		if l.PaceBytes != nil && *l.PaceBytes < 0 {
			return fmt.Errorf("link.pace_bytes must be non-negative, got %d", *l.PaceBytes)
		}
		for name, v := range map[string]*string{
			"link.step_delay": l.StepDelay,
			"link.pace_delay": l.PaceDelay,
			"link.report_gap": l.ReportGap,
		} {
			if err := validDuration(name, v, true); err != nil {
				return err
			}
		}
	}

	if s := c.Sensors; s != nil {
		for name, src := range map[string]*SensorSource{
			"temperature": s.Temperature,
			"humidity":    s.Humidity,
			"illuminance": s.Illuminance,
		} {
			if src != nil && src.Path == "" {
				return fmt.Errorf("sensors.%s.path is required", name)
			}
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetPort returns the serial device path or "/dev/ttyUSB0".
func (c *NodeConfig) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return "/dev/ttyUSB0"
	}
	return *c.Port
}

// GetSerial returns the serial line options; zero values select 115200 8N1.
func (c *NodeConfig) GetSerial() uart.PortOptions {
	if c.Serial == nil {
		return uart.PortOptions{}
	}
	return *c.Serial
}

// GetStrategy returns the configured link strategy, cooperative by default.
func (c *NodeConfig) GetStrategy() link.Strategy {
	if c.Strategy == nil {
		return link.Cooperative
	}
	s, err := link.ParseStrategy(*c.Strategy)
	if err != nil {
		return link.Cooperative
	}
	return s
}

// GetSampleInterval returns the sampling period.
func (c *NodeConfig) GetSampleInterval() time.Duration {
	return durationOr(c.SampleInterval, time.Second)
}

// GetCapacity returns the per-channel sample capacity.
func (c *NodeConfig) GetCapacity() int {
	if c.Capacity == nil {
		return frame.MaxSamples
	}
	return *c.Capacity
}

// GetWakeRetryIterations returns how many idle loop iterations pass between
// cooperative wake pulses.
func (c *NodeConfig) GetWakeRetryIterations() int {
	if c.WakeRetryIterations == nil {
		return 1000
	}
	return *c.WakeRetryIterations
}

// GetIdleSleep returns the pause taken by Run when a loop iteration did
// nothing.
func (c *NodeConfig) GetIdleSleep() time.Duration {
	return durationOr(c.IdleSleep, time.Millisecond)
}

// GetHeartbeatInterval returns the heartbeat period; zero disables heartbeats.
func (c *NodeConfig) GetHeartbeatInterval() time.Duration {
	return durationOr(c.HeartbeatInterval, 0)
}

// GetDBPath returns the sqlite database path.
func (c *NodeConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "envnode.db"
	}
	return *c.DBPath
}

// GetReplayBacklog reports whether abandoned batches are re-sent when idle.
func (c *NodeConfig) GetReplayBacklog() bool {
	if c.ReplayBacklog == nil {
		return false
	}
	return *c.ReplayBacklog
}

// GetAdminListen returns the admin HTTP listen address; empty disables it.
func (c *NodeConfig) GetAdminListen() string {
	if c.AdminListen == nil {
		return ""
	}
	return *c.AdminListen
}

// LinkOptions converts the link section into bridge options.
func (c *NodeConfig) LinkOptions() []link.Option {
	l := c.Link
	if l == nil {
		l = &LinkConfig{}
	}
	steps, resend := link.DefaultHandshakeSteps, link.DefaultResendEvery
	if l.HandshakeSteps != nil {
		steps = *l.HandshakeSteps
	}
	if l.ResendEvery != nil {
		resend = *l.ResendEvery
	}
	paceBytes := link.DefaultPaceBytes
	if l.PaceBytes != nil {
		paceBytes = *l.PaceBytes
	}
	return []link.Option{
		link.WithHandshake(steps, resend, durationOr(l.StepDelay, link.DefaultStepDelay)),
		link.WithPacing(paceBytes, durationOr(l.PaceDelay, link.DefaultPaceDelay)),
		link.WithReportGap(durationOr(l.ReportGap, link.DefaultReportGap)),
	}
}

// SensorReaders builds file readers for the configured channels. A channel
// without a source gets a nil reader and reports the zero sentinel.
func (c *NodeConfig) SensorReaders() sensor.Sensors {
	var out sensor.Sensors
	s := c.Sensors
	if s == nil {
		return out
	}
	if r := s.Temperature.reader(); r != nil {
		out.Temperature = r
	}
	if r := s.Humidity.reader(); r != nil {
		out.Humidity = r
	}
	if r := s.Illuminance.reader(); r != nil {
		out.Illuminance = r
	}
	return out
}

func (s *SensorSource) reader() sensor.Reader {
	if s == nil || s.Path == "" {
		return nil
	}
	return sensor.FileReader{Path: s.Path, Scale: s.Scale, Offset: s.Offset}
}
