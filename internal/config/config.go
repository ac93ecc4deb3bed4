// Package config loads the subalive settings shared by master and slave.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config is read from SUBALIVE_* environment variables. The master passes its
// environment to the slave, so both sides agree on period and modulus.
type Config struct {
	Period            time.Duration `env:"SUBALIVE_PERIOD, default=5s"`
	CounterModulus    int           `env:"SUBALIVE_COUNTER_MODULUS, default=256"`
	ListenAddr        string        `env:"SUBALIVE_LISTEN_ADDR, default=localhost:8000"`
	TimeoutMultiplier float64       `env:"SUBALIVE_TIMEOUT_MULTIPLIER, default=1.5"`
	ShutdownGrace     time.Duration `env:"SUBALIVE_SHUTDOWN_GRACE, default=5s"`
	CallTimeout       time.Duration `env:"SUBALIVE_CALL_TIMEOUT, default=5s"`
	StartupTimeout    time.Duration `env:"SUBALIVE_STARTUP_TIMEOUT, default=10s"`

	ReceiverID    string   `env:"SUBALIVE_RECEIVER_ID"`
	EtcdEndpoints []string `env:"SUBALIVE_ETCD_ENDPOINTS"`
	EtcdLeaseTTL  int64    `env:"SUBALIVE_ETCD_LEASE_TTL, default=10"`

	MetricsAddr string `env:"SUBALIVE_METRICS_ADDR"`
	LogLevel    string `env:"SUBALIVE_LOG_LEVEL, default=info"`
	Development bool   `env:"SUBALIVE_DEV, default=false"`
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith parses the configuration from l without touching .env files.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ReceiverID == "" {
		cfg.ReceiverID = "slave-" + uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Period <= 0:
		return fmt.Errorf("SUBALIVE_PERIOD must be positive, got %s", c.Period)
	case c.CounterModulus < 2:
		return fmt.Errorf("SUBALIVE_COUNTER_MODULUS must be at least 2, got %d", c.CounterModulus)
	case c.TimeoutMultiplier <= 1:
		return fmt.Errorf("SUBALIVE_TIMEOUT_MULTIPLIER must exceed 1, got %g", c.TimeoutMultiplier)
	case c.ShutdownGrace <= 0:
		return fmt.Errorf("SUBALIVE_SHUTDOWN_GRACE must be positive, got %s", c.ShutdownGrace)
	case c.CallTimeout <= 0:
		return fmt.Errorf("SUBALIVE_CALL_TIMEOUT must be positive, got %s", c.CallTimeout)
	case c.StartupTimeout <= 0:
		return fmt.Errorf("SUBALIVE_STARTUP_TIMEOUT must be positive, got %s", c.StartupTimeout)
	}
	return nil
}

// CheckPeriod is the receiver's silence threshold.
func (c *Config) CheckPeriod() time.Duration {
	return time.Duration(float64(c.Period) * c.TimeoutMultiplier)
}

// UsesEtcd reports whether discovery goes through etcd instead of ListenAddr.
func (c *Config) UsesEtcd() bool {
	return len(c.EtcdEndpoints) > 0
}

// Environ renders the settings the slave must share with the master.
func (c *Config) Environ() []string {
	return []string{
		"SUBALIVE_PERIOD=" + c.Period.String(),
		fmt.Sprintf("SUBALIVE_COUNTER_MODULUS=%d", c.CounterModulus),
		"SUBALIVE_LISTEN_ADDR=" + c.ListenAddr,
		fmt.Sprintf("SUBALIVE_TIMEOUT_MULTIPLIER=%g", c.TimeoutMultiplier),
		"SUBALIVE_SHUTDOWN_GRACE=" + c.ShutdownGrace.String(),
		"SUBALIVE_RECEIVER_ID=" + c.ReceiverID,
	}
}
