package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the server's environment-driven configuration.
type Config struct {
	Addr            string        `env:"TAVERN_ADDR" envDefault:":8780"`
	GMCredential    string        `env:"TAVERN_GM_CREDENTIAL"`
	BroadcastWindow time.Duration `env:"TAVERN_BROADCAST_WINDOW" envDefault:"16ms"`
	LogSinks        []string      `env:"TAVERN_LOG_SINKS" envDefault:"console"`
	LogDebug        bool          `env:"TAVERN_LOG_DEBUG"`
}

// ConfigFromEnv loads Config from the process environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
