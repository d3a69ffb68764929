package lotline

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lotline/lotline/lotline/database"
	"github.com/lotline/lotline/lotline/payment"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	Web     WebConfig         `toml:"web"`
	DB      database.DBConfig `toml:"db"`
	Engine  EngineConfig      `toml:"engine"`
	Payment payment.Config    `toml:"payment"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type WebConfig struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

type EngineConfig struct {
	SweepInterval      time.Duration `toml:"sweep_interval"`
	SettlementInterval time.Duration `toml:"settlement_interval"`
}

// SweepIntervalOrDefault returns the configured sweep interval or a sane default.
func (c EngineConfig) SweepIntervalOrDefault() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	return 5 * time.Second
}

func (c EngineConfig) SettlementIntervalOrDefault() time.Duration {
	if c.SettlementInterval > 0 {
		return c.SettlementInterval
	}
	return 30 * time.Second
}
