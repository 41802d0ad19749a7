// File: internal/config/config.go
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

type BotConfig struct {
	Token    string  `yaml:"token"`
	Username string  `yaml:"username"`
	Workers  int     `yaml:"workers"` // polling workers
	AdminIDs []int64 `yaml:"admin_ids"`
}

type EmbyConfig struct {
	Host           string        `yaml:"host"`
	APIKey         string        `yaml:"api_key"`
	TemplateUserID string        `yaml:"template_user_id"` // permissions copied from this account
	Timeout        time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"` // empty disables rate limiting
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SweepConfig struct {
	Interval     time.Duration `yaml:"interval"`
	WarnDays     []int         `yaml:"warn_days"`
	GraceDays    int           `yaml:"grace_days"`
	NotifyAdmins bool          `yaml:"notify_admins"`
}

type AdminAPIConfig struct {
	Port       int           `yaml:"port"`
	Secret     string        `yaml:"secret"` // shared secret exchanged for a session token
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	Emby     EmbyConfig     `yaml:"emby"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Sweep    SweepConfig    `yaml:"sweep"`
	AdminAPI AdminAPIConfig `yaml:"admin_api"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Emby.Timeout <= 0 {
		cfg.Emby.Timeout = 15 * time.Second
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = time.Hour
	}
	if len(cfg.Sweep.WarnDays) == 0 {
		cfg.Sweep.WarnDays = []int{7, 3, 1}
	}
	if cfg.Sweep.GraceDays <= 0 {
		cfg.Sweep.GraceDays = 7
	}
	if cfg.AdminAPI.SessionTTL <= 0 {
		cfg.AdminAPI.SessionTTL = 30 * time.Minute
	}
	cfg.Runtime.Dev = dev

	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot.token is required")
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	if cfg.Emby.Host == "" || cfg.Emby.APIKey == "" {
		return nil, fmt.Errorf("emby.host and emby.api_key are required")
	}
	return &cfg, nil
}

// GracePeriod converts the configured grace days to a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Sweep.GraceDays) * 24 * time.Hour
}
