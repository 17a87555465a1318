package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CounterAcceptHire   = "hire"
	CounterAcceptRevert = "revert"

	DefaultReservationGrace = 5 * time.Minute
)

// Config models gigline.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Policies struct {
		CounterAccept           string `yaml:"counter_accept"`
		MaxPositions            int    `yaml:"max_positions"`
		ReservationGraceSeconds int    `yaml:"reservation_grace_seconds"`
	} `yaml:"policies"`
	Events struct {
		Redis RedisConfig `yaml:"redis"`
	} `yaml:"events"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Server   struct {
		Addr      string `yaml:"addr"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Channel   string `yaml:"channel"`
	QueueSize int    `yaml:"queue_size"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gigline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pg":
		if c.Database.DSN == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	switch c.Policies.CounterAccept {
	case "", CounterAcceptHire, CounterAcceptRevert:
	default:
		return fmt.Errorf("config.policies.counter_accept must be %s or %s", CounterAcceptHire, CounterAcceptRevert)
	}
	if c.Policies.MaxPositions < 0 {
		return fmt.Errorf("config.policies.max_positions must not be negative")
	}
	if c.Policies.ReservationGraceSeconds < 0 {
		return fmt.Errorf("config.policies.reservation_grace_seconds must not be negative")
	}
	if c.Events.Redis.DB < 0 {
		return fmt.Errorf("config.events.redis.db must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit values must not be negative")
	}
	return nil
}

// CounterAcceptPolicy returns the effective counter_accept policy.
func (c *Config) CounterAcceptPolicy() string {
	if c == nil || c.Policies.CounterAccept == "" {
		return CounterAcceptHire
	}
	return c.Policies.CounterAccept
}

// ReservationGrace is how old a reservation must be before reconcile may
// give it back.
func (c *Config) ReservationGrace() time.Duration {
	if c == nil {
		return DefaultReservationGrace
	}
	return time.Duration(c.Policies.ReservationGraceSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  driver: sqlite

policies:
  # hire: accepting a counter-offer hires the bid at the countered price.
  # revert: accepting returns the bid to pending at the countered price.
  counter_accept: hire
  max_positions: 100
  # reservations younger than this are treated as hires in flight and are
  # never released by gig reconcile.
  reservation_grace_seconds: 300

events:
  redis:
    addr: ""
    channel: gigline:events
    queue_size: 256

webhooks: []

server:
  addr: 127.0.0.1:8080
  rate_limit:
    rps: 10
    burst: 20
`
