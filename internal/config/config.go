package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/ratelimit"
)

// Config defines configuration for the clickup-images CLI.
type Config struct {
	Token         string        `yaml:"token"`
	TeamID        string        `yaml:"team_id"`
	APIURL        string        `yaml:"api_url"`
	Output        string        `yaml:"output"`
	StateDir      string        `yaml:"state_dir"`
	Workers       int           `yaml:"workers"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Timeout       time.Duration `yaml:"timeout"`
	Retry         RetryConfig   `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Output:        "clickup_images",
		StateDir:      ".clickup-images",
		Workers:       4,
		RatePerMinute: ratelimit.DefaultPerMinute,
		Timeout:       30 * time.Second,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Token         string          `yaml:"token"`
	TeamID        string          `yaml:"team_id"`
	APIURL        string          `yaml:"api_url"`
	Output        string          `yaml:"output"`
	StateDir      string          `yaml:"state_dir"`
	Workers       int             `yaml:"workers"`
	RatePerMinute int             `yaml:"rate_per_minute"`
	Timeout       string          `yaml:"timeout"`
	Retry         yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Token != "" {
		cfg.Token = yc.Token
	}
	if yc.TeamID != "" {
		cfg.TeamID = yc.TeamID
	}
	if yc.APIURL != "" {
		cfg.APIURL = yc.APIURL
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.StateDir != "" {
		cfg.StateDir = yc.StateDir
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.RatePerMinute != 0 {
		cfg.RatePerMinute = yc.RatePerMinute
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadDotenv loads a .env file from the working directory into the
// process environment, if one exists. Variables already set in the
// environment win.
func LoadDotenv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CLICKUP_ prefix; TEAM_ID is also
// accepted without the prefix for compatibility with older setups.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("CLICKUP_API_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("CLICKUP_TEAM_ID"); v != "" {
		c.TeamID = v
	} else if v := os.Getenv("TEAM_ID"); v != "" {
		c.TeamID = v
	}
	if v := os.Getenv("CLICKUP_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("CLICKUP_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("CLICKUP_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("CLICKUP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CLICKUP_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("CLICKUP_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CLICKUP_RATE_PER_MINUTE: %w", err)
		}
		c.RatePerMinute = n
	}
	if v := os.Getenv("CLICKUP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CLICKUP_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("CLICKUP_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse CLICKUP_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("CLICKUP_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CLICKUP_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("CLICKUP_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse CLICKUP_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("config: API token is required (CLICKUP_API_TOKEN)")
	}
	if c.TeamID == "" {
		return errors.New("config: team ID is required (CLICKUP_TEAM_ID)")
	}
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	if c.StateDir == "" {
		return errors.New("config: state_dir is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.RatePerMinute <= 0 {
		return errors.New("config: rate_per_minute must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Token != "" {
		c.Token = override.Token
	}
	if override.TeamID != "" {
		c.TeamID = override.TeamID
	}
	if override.APIURL != "" {
		c.APIURL = override.APIURL
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.StateDir != "" {
		c.StateDir = override.StateDir
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.RatePerMinute != 0 {
		c.RatePerMinute = override.RatePerMinute
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}
