// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the full service configuration. Engine defaults apply to
// submitted problems that do not override them.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`

	HTTP struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}

	Engine struct {
		// FailureLimit is the consecutive evaluator-failure threshold
		// before a run escalates to ERROR.
		FailureLimit int `env:"ENGINE_FAILURE_LIMIT" envDefault:"50"`
		// RunTimeout caps the wall-clock time of runs submitted over HTTP
		// that carry no explicit time limit.
		RunTimeout time.Duration `env:"ENGINE_RUN_TIMEOUT" envDefault:"5m"`
	}
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
