package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lqvu/vending-machine/internal/core/domain"
)

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode"` // "development" or "production"
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

type Config struct {
	Server        ServerConfig   `yaml:"server"`
	Database      DatabaseConfig `yaml:"database"`
	Redis         RedisConfig    `yaml:"redis"`
	Logger        LoggerConfig   `yaml:"logger"`
	Denominations []int          `yaml:"denominations"`
	ReconcileCron string         `yaml:"reconcile_cron"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8000"},
		Database: DatabaseConfig{
			DSN:             "root:root@tcp(localhost:3306)/vending?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5,
		},
		Redis:         RedisConfig{Addr: "localhost:6379", PoolSize: 100},
		Logger:        LoggerConfig{Mode: "development"},
		Denominations: append([]int(nil), domain.DefaultDenominations...),
		ReconcileCron: "@every 5m",
	}
}

// Load reads an optional YAML file and applies VEND_* env overrides on
// top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("VEND_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("VEND_MYSQL_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("VEND_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VEND_LOG_MODE"); v != "" {
		cfg.Logger.Mode = v
	}

	if err := domain.ValidateDenominations(cfg.Denominations); err != nil {
		return nil, fmt.Errorf("denominations: %w", err)
	}
	return &cfg, nil
}
