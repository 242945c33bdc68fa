package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

// Duration accepts YAML scalars like "30s" or "1h", or a bare number of
// seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type ServerConfig struct {
	PublicPort int `yaml:"public_port"`
	AdminPort  int `yaml:"admin_port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      Duration      `yaml:"ttl"` // stats cache TTL
}

type AdminConfig struct {
	Password     string        `yaml:"password"`
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   Duration      `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
	CookieDomain string        `yaml:"cookie_domain"`
}

type CodesConfig struct {
	PinPrefix           string `yaml:"pin_prefix"`
	PinLength           int    `yaml:"pin_length"`
	SerialWidth         int    `yaml:"serial_width"`
	AsyncIssueThreshold int    `yaml:"async_issue_threshold"` // above this, issuance runs in the worker pool
	Workers             int    `yaml:"workers"`
}

type LimitConfig struct {
	Limit    int           `yaml:"limit"`
	Window   Duration `yaml:"window"`
	Capacity int           `yaml:"capacity"`
}

type LimitsConfig struct {
	Redeem LimitConfig `yaml:"redeem"`
	Verify LimitConfig `yaml:"verify"`
	Admin  LimitConfig `yaml:"admin"`
}

type SweeperConfig struct {
	Interval Duration `yaml:"interval"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Admin    AdminConfig    `yaml:"admin"`
	Codes    CodesConfig    `yaml:"codes"`
	Limits   LimitsConfig   `yaml:"limits"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads and validates the YAML config file, applying defaults for
// everything the deployment may omit.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev

	// defaults
	if cfg.Server.PublicPort == 0 {
		cfg.Server.PublicPort = 8080
	}
	if cfg.Server.AdminPort == 0 {
		cfg.Server.AdminPort = 8081
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = Duration(30 * time.Second)
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = Duration(30 * time.Minute)
	}
	if cfg.Codes.PinLength == 0 {
		cfg.Codes.PinLength = 16
	}
	if cfg.Codes.SerialWidth == 0 {
		cfg.Codes.SerialWidth = 12
	}
	if cfg.Codes.AsyncIssueThreshold <= 0 {
		cfg.Codes.AsyncIssueThreshold = 1000
	}
	if cfg.Codes.Workers <= 0 {
		cfg.Codes.Workers = 4
	}
	applyLimitDefaults(&cfg.Limits.Redeem, 5, time.Minute, 10000)
	applyLimitDefaults(&cfg.Limits.Verify, 10, time.Minute, 10000)
	applyLimitDefaults(&cfg.Limits.Admin, 120, time.Minute, 1000)
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = Duration(time.Hour)
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	return &cfg, nil
}

func applyLimitDefaults(lc *LimitConfig, limit int, window time.Duration, capacity int) {
	if lc.Limit <= 0 {
		lc.Limit = limit
	}
	if lc.Window <= 0 {
		lc.Window = Duration(window)
	}
	if lc.Capacity <= 0 {
		lc.Capacity = capacity
	}
}
