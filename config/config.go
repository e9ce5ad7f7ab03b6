// Package config loads process settings from XMLRPC_BRIDGE_* environment
// variables. Per-node settings live in the flow file instead.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/juju/errors"
	"go.uber.org/zap/zapcore"

	"xmlrpc-bridge/logging"
)

// Prefix is prepended to every variable name.
const Prefix = "XMLRPC_BRIDGE_"

type Config struct {
	LogLevel      zapcore.Level `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"LOG_FORMAT" envDefault:"console"`
	LogFile       string        `env:"LOG_FILE"`
	LogMaxSizeMB  int           `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int           `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays int           `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `env:"METRICS_ADDR"`

	// EtcdEndpoints switches discovery from in-process to etcd.
	EtcdEndpoints   []string      `env:"ETCD_ENDPOINTS" envSeparator:","`
	EtcdDialTimeout time.Duration `env:"ETCD_DIAL_TIMEOUT" envDefault:"5s"`

	ResponseTimeout time.Duration `env:"RESPONSE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Language        string        `env:"LANGUAGE" envDefault:"en"`
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, errors.Annotate(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Logging().Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.EtcdDialTimeout <= 0 {
		return errors.NotValidf("etcd dial timeout %s", c.EtcdDialTimeout)
	}
	if c.ResponseTimeout <= 0 {
		return errors.NotValidf("response timeout %s", c.ResponseTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.NotValidf("shutdown timeout %s", c.ShutdownTimeout)
	}
	return nil
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		File:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
	}
}
