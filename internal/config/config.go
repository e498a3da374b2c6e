package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr   string           `yaml:"listen_addr"`
	Owner        string           `yaml:"owner"`
	FirstAirline FirstAirline     `yaml:"first_airline"`
	ParamsPath   string           `yaml:"params_path"`
	DB           DBConfig         `yaml:"db"`
	SigningKey   SigningKeyConfig `yaml:"signing_key"`
	Events       EventsConfig     `yaml:"events"`
	Auth         AuthConfig       `yaml:"auth"`
	Log          LogConfig        `yaml:"log"`
	Workers      WorkersConfig    `yaml:"workers"`
	Oracles      OraclesConfig    `yaml:"oracles"`
}

type FirstAirline struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SigningKeyConfig struct {
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

type EventsConfig struct {
	Driver        string `yaml:"driver"`
	URL           string `yaml:"url"`
	Exchange      string `yaml:"exchange"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	DevToken  string `yaml:"dev_token"`

	// IdempotencyTTL is how long a completed response is replayed for its key.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type WorkersConfig struct {
	RelayInterval time.Duration `yaml:"relay_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type OraclesConfig struct {
	Simulate    int   `yaml:"simulate"`
	StatusCodes []int `yaml:"status_codes"`
}

// Load reads a YAML config, expanding ${VAR} references. A .env file next to
// the config is loaded first; variables already set in the environment win.
func Load(path string) (Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return Config{}, err
	}

	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Finalize()
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// Finalize fills defaults and validates. Callers that overlay environment
// variables on a loaded config call it again afterwards.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "surety.events"
	}
	if c.Events.ChannelPrefix == "" {
		c.Events.ChannelPrefix = "surety"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Workers.RelayInterval == 0 {
		c.Workers.RelayInterval = time.Second
	}
	if c.Workers.SweepInterval == 0 {
		c.Workers.SweepInterval = time.Minute
	}
	if c.Auth.IdempotencyTTL == 0 {
		c.Auth.IdempotencyTTL = 24 * time.Hour
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if c.FirstAirline.Address == "" {
		return fmt.Errorf("first_airline.address is required")
	}

	if c.DB.Driver != "" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is set")
	}

	switch c.Events.Driver {
	case "", "memory":
	case "amqp", "redis":
		if c.Events.URL == "" {
			return fmt.Errorf("events.url is required when events.driver=%s", c.Events.Driver)
		}
	default:
		return fmt.Errorf("unsupported events.driver %q", c.Events.Driver)
	}

	if c.Auth.JWTSecret == "" && c.Auth.DevToken == "" {
		return fmt.Errorf("auth.jwt_secret or auth.dev_token is required")
	}
	if c.Oracles.Simulate < 0 {
		return fmt.Errorf("oracles.simulate must not be negative")
	}

	return nil
}
