package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/envnode/internal/frame"
	"github.com/banshee-data/envnode/internal/link"
	"github.com/banshee-data/envnode/internal/uart"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyNodeConfig_Defaults(t *testing.T) {
	cfg := EmptyNodeConfig()

	if got := cfg.GetPort(); got != "/dev/ttyUSB0" {
		t.Errorf("GetPort() = %q", got)
	}
	if got := cfg.GetStrategy(); got != link.Cooperative {
		t.Errorf("GetStrategy() = %v", got)
	}
	if got := cfg.GetSampleInterval(); got != time.Second {
		t.Errorf("GetSampleInterval() = %v", got)
	}
	if got := cfg.GetCapacity(); got != frame.MaxSamples {
		t.Errorf("GetCapacity() = %d", got)
	}
	if got := cfg.GetWakeRetryIterations(); got != 1000 {
		t.Errorf("GetWakeRetryIterations() = %d", got)
	}
	if got := cfg.GetHeartbeatInterval(); got != 0 {
		t.Errorf("GetHeartbeatInterval() = %v", got)
	}
	if got := cfg.GetDBPath(); got != "envnode.db" {
		t.Errorf("GetDBPath() = %q", got)
	}
	if cfg.GetReplayBacklog() {
		t.Error("GetReplayBacklog() = true, want false")
	}
	if cfg.GetAdminListen() != "" {
		t.Error("admin listener enabled by default")
	}
	if got := cfg.GetSerial().String(); got != "115200 8N1" {
		t.Errorf("GetSerial() = %s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on empty config: %v", err)
	}
	if n := len(cfg.LinkOptions()); n != 3 {
		t.Errorf("LinkOptions() returned %d options", n)
	}
}

func TestLoadNodeConfig(t *testing.T) {
	path := writeConfig(t, `{
  "port": "/dev/ttyAMA0",
  "serial": {"baud_rate": 57600},
  "strategy": "bounded-wait",
  "sample_interval": "2s",
  "capacity": 32,
  "replay_backlog": true,
  "heartbeat_interval": "30s",
  "link": {"handshake_steps": 100, "report_gap": "10ms"},
  "sensors": {"temperature": {"path": "/sys/class/hwmon/hwmon0/temp1_input", "scale": 0.001}}
}`)

	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("LoadNodeConfig() error = %v", err)
	}
	if cfg.GetPort() != "/dev/ttyAMA0" {
		t.Errorf("GetPort() = %q", cfg.GetPort())
	}
	if cfg.GetSerial().BaudRate != 57600 {
		t.Errorf("baud = %d", cfg.GetSerial().BaudRate)
	}
	if cfg.GetStrategy() != link.BoundedWait {
		t.Errorf("GetStrategy() = %v", cfg.GetStrategy())
	}
	if cfg.GetSampleInterval() != 2*time.Second {
		t.Errorf("GetSampleInterval() = %v", cfg.GetSampleInterval())
	}
	if cfg.GetCapacity() != 32 {
		t.Errorf("GetCapacity() = %d", cfg.GetCapacity())
	}
	if !cfg.GetReplayBacklog() {
		t.Error("GetReplayBacklog() = false")
	}
	if cfg.GetHeartbeatInterval() != 30*time.Second {
		t.Errorf("GetHeartbeatInterval() = %v", cfg.GetHeartbeatInterval())
	}
	if cfg.Sensors == nil || cfg.Sensors.Temperature == nil || cfg.Sensors.Temperature.Scale != 0.001 {
		t.Errorf("sensors = %+v", cfg.Sensors)
	}
	// Unset fields keep their defaults.
	if cfg.GetWakeRetryIterations() != 1000 {
		t.Errorf("GetWakeRetryIterations() = %d", cfg.GetWakeRetryIterations())
	}
}

func TestLoadNodeConfig_Defaults(t *testing.T) {
	cfg, err := LoadNodeConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("LoadNodeConfig(defaults) error = %v", err)
	}
	empty := EmptyNodeConfig()
	if cfg.GetCapacity() != empty.GetCapacity() ||
		cfg.GetSampleInterval() != empty.GetSampleInterval() ||
		cfg.GetStrategy() != empty.GetStrategy() ||
		cfg.GetWakeRetryIterations() != empty.GetWakeRetryIterations() {
		t.Errorf("defaults file disagrees with built-in defaults: %+v", cfg)
	}
}

func TestLoadNodeConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "node.yaml")
	os.WriteFile(yamlPath, []byte(`{}`), 0644)
	if _, err := LoadNodeConfig(yamlPath); err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("expected extension error, got %v", err)
	}

	if _, err := LoadNodeConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected stat error")
	}

	big := filepath.Join(dir, "big.json")
	os.WriteFile(big, make([]byte, maxFileSize+1), 0644)
	if _, err := LoadNodeConfig(big); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}

	if _, err := LoadNodeConfig(writeConfig(t, `{not json`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestNodeConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  NodeConfig
	}{
		{"strategy", NodeConfig{Strategy: ptrString("eager")}},
		{"capacity zero", NodeConfig{Capacity: ptrInt(0)}},
		{"capacity over max", NodeConfig{Capacity: ptrInt(frame.MaxSamples + 1)}},
		{"wake retry", NodeConfig{WakeRetryIterations: ptrInt(0)}},
		{"sample interval", NodeConfig{SampleInterval: ptrString("soon")}},
		{"sample interval zero", NodeConfig{SampleInterval: ptrString("0s")}},
		{"sample interval sub-ms", NodeConfig{SampleInterval: ptrString("1500us")}},
		{"idle sleep", NodeConfig{IdleSleep: ptrString("-1ms")}},
		{"serial", NodeConfig{Serial: &uartOptionsBadBaud}},
		{"handshake steps", NodeConfig{Link: &LinkConfig{HandshakeSteps: ptrInt(0)}}},
		{"resend every", NodeConfig{Link: &LinkConfig{ResendEvery: ptrInt(-1)}}},
		{"pace bytes", NodeConfig{Link: &LinkConfig{PaceBytes: ptrInt(-1)}}},
		{"step delay", NodeConfig{Link: &LinkConfig{StepDelay: ptrString("x")}}},
		{"sensor path", NodeConfig{Sensors: &SensorConfig{Humidity: &SensorSource{}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil for %s", tc.name)
			}
		})
	}

	ok := NodeConfig{ReplayBacklog: ptrBool(true), Link: &LinkConfig{PaceBytes: ptrInt(0)}}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

var uartOptionsBadBaud = uart.PortOptions{BaudRate: 1234}

func TestNodeConfig_SensorReaders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temp1_input")
	if err := os.WriteFile(path, []byte("23500\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := NodeConfig{Sensors: &SensorConfig{
		Temperature: &SensorSource{Path: path, Scale: 0.001},
	}}

	s := cfg.SensorReaders()
	if s.Humidity != nil || s.Illuminance != nil {
		t.Errorf("unconfigured channels got readers: %+v", s)
	}
	if s.Temperature == nil {
		t.Fatal("Temperature reader = nil")
	}
	got, err := s.Temperature.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != 23.5 {
		t.Errorf("Read() = %v, want 23.5", got)
	}

	if empty := EmptyNodeConfig().SensorReaders(); empty.Temperature != nil {
		t.Errorf("EmptyNodeConfig().SensorReaders() = %+v", empty)
	}
}
