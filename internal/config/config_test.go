package config

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"

	"github.com/Zereker/msgsock"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := &Config{
		BindAddress:  "0.0.0.0",
		Port:         9000,
		Magic:        0xC0FFEE,
		TextEncoding: "utf-8",
	}
	want.Log.Level = "info"
	want.Log.Format = "text"
	want.Metrics.Address = ":9100"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	if cfg.Address() != "0.0.0.0:9000" {
		t.Errorf("Address() = %s, want 0.0.0.0:9000", cfg.Address())
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgsockd.yaml")
	contents := `
bind_address: 127.0.0.1
port: 9500
magic: 48879
text_encoding: utf-16le
echo: true
idle_timeout: 30s
log:
  level: debug
  format: json
metrics:
  enabled: true
  address: 127.0.0.1:9200
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Address() != "127.0.0.1:9500" {
		t.Errorf("Address() = %s, want 127.0.0.1:9500", cfg.Address())
	}
	if cfg.Magic != 0xBEEF {
		t.Errorf("Magic = %#x, want 0xbeef", cfg.Magic)
	}
	if cfg.TextEncoding != "utf-16le" || !cfg.Echo {
		t.Errorf("TextEncoding = %s, Echo = %v", cfg.TextEncoding, cfg.Echo)
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", cfg.IdleTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Address != "127.0.0.1:9200" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("MSGSOCK_PORT", "9100")
	t.Setenv("MSGSOCK_MAGIC", "0xABCD")
	t.Setenv("MSGSOCK_WRITE_TIMEOUT", "250ms")
	t.Setenv("MSGSOCK_LOG_LEVEL", "warn")

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port)
	}
	if cfg.Magic != 0xABCD {
		t.Errorf("Magic = %#x, want 0xabcd", cfg.Magic)
	}
	if cfg.WriteTimeout != 250*time.Millisecond {
		t.Errorf("WriteTimeout = %v, want 250ms", cfg.WriteTimeout)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %s, want warn", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"negative port", func(c *Config) { c.Port = -1 }},
		{"negative max payload", func(c *Config) { c.MaxPayload = -5 }},
		{"unknown encoding", func(c *Config) { c.TextEncoding = "latin1" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(viper.New(), "")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			tt.modify(cfg)
			if err = cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestValidate_MaxPayloadBounds(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg.MaxPayload = math.MaxInt32
	if err = cfg.Validate(); err != nil {
		t.Errorf("max_payload %d rejected: %v", cfg.MaxPayload, err)
	}

	if strconv.IntSize == 32 {
		t.Skip("int cannot exceed the length field")
	}
	big := uint64(1)<<32 + 4
	cfg.MaxPayload = int(big)
	if err = cfg.Validate(); err == nil {
		t.Errorf("max_payload %d accepted", cfg.MaxPayload)
	}
}

func TestServiceOptions(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.TextEncoding = "utf-16le"

	opts, err := cfg.ServiceOptions()
	if err != nil {
		t.Fatalf("ServiceOptions failed: %v", err)
	}
	if len(opts) == 0 {
		t.Fatal("no service options returned")
	}
	if len(cfg.ConnOptions()) != 4 {
		t.Errorf("ConnOptions() returned %d options, want 4", len(cfg.ConnOptions()))
	}

	// The options must produce a service that starts.
	svc := msgsock.NewService(opts...)
	if err = svc.StartService("127.0.0.1", 0); err != nil {
		t.Fatalf("StartService failed: %v", err)
	}
	defer svc.Close()

	cfg.TextEncoding = "ebcdic"
	if _, err = cfg.ServiceOptions(); err == nil {
		t.Error("expected error for an unknown encoding")
	}
}

func TestNewLogger(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Log.Format = "json"

	var buf bytes.Buffer
	logger, err := NewLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Debug("hidden")
	logger.Info("shown", "port", 9000)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug entry written at info level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"port":9000`) {
		t.Errorf("unexpected log output: %s", out)
	}

	cfg.Log.Level = "nope"
	if _, err = NewLogger(cfg, &buf); err == nil {
		t.Error("expected error for an invalid level")
	}
}
