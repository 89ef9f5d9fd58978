// Package config loads msgsockd settings from flags, environment and an
// optional config file.
package config

import (
	"io"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Zereker/msgsock"
)

// EnvPrefix prefixes every environment variable read by Load. Nested keys use
// underscores, e.g. log.level is read from MSGSOCK_LOG_LEVEL.
const EnvPrefix = "MSGSOCK"

// Config contains every option of the msgsockd daemon.
type Config struct {
	// Interface on which the service listens.
	BindAddress string `mapstructure:"bind_address"`
	// TCP port on which the service listens.
	Port int `mapstructure:"port"`
	// Magic value expected in and written to every frame header.
	Magic uint32 `mapstructure:"magic"`
	// Largest payload accepted or sent. 0 disables the limit.
	MaxPayload int `mapstructure:"max_payload"`
	// How long to wait for the next frame before dropping the client. 0 waits forever.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// How long a single send may block. 0 waits forever.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Text encoding of message payloads: utf-8 or utf-16le.
	TextEncoding string `mapstructure:"text_encoding"`
	// Reply to every received message with the same text.
	Echo bool `mapstructure:"echo"`

	Log struct {
		// Minimum level written. Options: debug, info, warn, error
		Level string `mapstructure:"level"`
		// Output format. Options: text, json
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Metrics struct {
		// Serve Prometheus metrics over HTTP.
		Enabled bool `mapstructure:"enabled"`
		// Listen address of the metrics endpoint.
		Address string `mapstructure:"address"`
	} `mapstructure:"metrics"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("bind_address", msgsock.DefaultBindAddress)
	v.SetDefault("port", msgsock.DefaultPort)
	v.SetDefault("magic", msgsock.DefaultMagic)
	v.SetDefault("max_payload", 0)
	v.SetDefault("idle_timeout", time.Duration(0))
	v.SetDefault("write_timeout", time.Duration(0))
	v.SetDefault("text_encoding", msgsock.UTF8.Name())
	v.SetDefault("echo", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9100")
}

// Load reads the configuration from v. Environment variables override the
// config file, and values bound to flags on v override both. configFile may
// be empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", configFile)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be caught by unmarshaling.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.MaxPayload < 0 || uint64(c.MaxPayload) > math.MaxUint32 {
		return errors.Errorf("invalid max_payload %d", c.MaxPayload)
	}
	if _, err := msgsock.LookupTextEncoding(c.TextEncoding); err != nil {
		return err
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

// Address returns the host:port the service listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// ConnOptions returns the per-connection options described by c.
func (c *Config) ConnOptions() []msgsock.Option {
	return []msgsock.Option{
		msgsock.MagicOption(c.Magic),
		msgsock.MessageMaxSize(c.MaxPayload),
		msgsock.IdleTimeoutOption(c.IdleTimeout),
		msgsock.WriteTimeoutOption(c.WriteTimeout),
	}
}

// ServiceOptions returns the service options described by c.
func (c *Config) ServiceOptions() ([]msgsock.ServiceOption, error) {
	enc, err := msgsock.LookupTextEncoding(c.TextEncoding)
	if err != nil {
		return nil, err
	}
	return []msgsock.ServiceOption{
		msgsock.TextEncodingOption(enc),
		msgsock.ConnOptions(c.ConnOptions()...),
	}, nil
}

// NewLogger returns a logger writing to w at the configured level and format.
func NewLogger(c *Config, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", s)
	}
	return level, nil
}
