// Package config loads the modeling service's configuration from the
// environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Solver struct {
		Tolerance           float64       `env:"SOLVER_TOL" envDefault:"1e-8"`
		AcceptableTolerance float64       `env:"SOLVER_ACCEPTABLE_TOL" envDefault:"1e-6"`
		MaxIterations       int           `env:"SOLVER_MAX_ITER" envDefault:"3000"`
		MaxCPUTime          time.Duration `env:"SOLVER_MAX_CPU_TIME" envDefault:"0"`
	}
	Evaluator struct {
		WorkerCount int `env:"EVAL_WORKER_COUNT" envDefault:"1"`
	}
}

// Load parses the configuration from environment variables. Development
// environments default to debug logging when no level is set.
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
