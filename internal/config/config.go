// Package config loads creatorhub's runtime configuration.
//
// LOAD ORDER:
// Values are layered, later layers win:
//  1. defaults()            safe values for local development
//  2. YAML file             checked-in, per-environment settings
//  3. .env file             developer secrets, never committed
//  4. process environment   what the deployment platform injects
//
// After layering, validate() rejects combinations the server cannot run with.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server struct {
		Port        int    `yaml:"port"`
		TemplateDir string `yaml:"template_dir"`
		StaticDir   string `yaml:"static_dir"`
		BaseURL     string `yaml:"base_url"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret          string `yaml:"jwt_secret"`
		GoogleClientID     string `yaml:"google_client_id"`
		GoogleClientSecret string `yaml:"google_client_secret"`
		GoogleCallbackURL  string `yaml:"google_callback_url"`
		SignupCredits      int    `yaml:"signup_credits"`
	} `yaml:"auth"`

	Backend struct {
		URL          string        `yaml:"url"`
		Timeout      time.Duration `yaml:"timeout"`
		RatePerSec   float64       `yaml:"rate_per_sec"`
		Burst        int           `yaml:"burst"`
		LookupTTL    time.Duration `yaml:"lookup_ttl"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"backend"`

	Outreach struct {
		Enabled        bool          `yaml:"enabled"`
		Interval       time.Duration `yaml:"interval"`
		MaxPerDay      int           `yaml:"max_per_day"`
		SendsPerMinute int           `yaml:"sends_per_minute"`
		FromAddress    string        `yaml:"from_address"`
		SMTPHost       string        `yaml:"smtp_host"`
		SMTPPort       int           `yaml:"smtp_port"`
		SMTPUsername   string        `yaml:"smtp_username"`
		SMTPPassword   string        `yaml:"smtp_password"`
	} `yaml:"outreach"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load builds a Config from defaults, the optional YAML file at path, an
// optional .env file and the environment.
//
// A missing YAML file is not an error: a fresh checkout should start with
// nothing but defaults. A YAML file that exists but doesn't parse IS an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// fall through to env + defaults
		default:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// godotenv.Load never overrides variables that are already set, so real
	// environment values beat the .env file.
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.TemplateDir = "web/templates"
	cfg.Server.StaticDir = "web/static"
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Database.Path = "data/creatorhub.db"
	cfg.Auth.SignupCredits = 25
	cfg.Backend.URL = "http://localhost:5000"
	cfg.Backend.Timeout = 15 * time.Second
	cfg.Backend.RatePerSec = 10
	cfg.Backend.Burst = 20
	cfg.Backend.LookupTTL = 10 * time.Minute
	cfg.Backend.PollInterval = 2 * time.Second
	cfg.Outreach.Enabled = true
	cfg.Outreach.Interval = time.Minute
	cfg.Outreach.MaxPerDay = 200
	cfg.Outreach.SendsPerMinute = 30
	cfg.Outreach.FromAddress = "outreach@creatorhub.local"
	cfg.Outreach.SMTPPort = 587
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// applyEnv copies well-known environment variables over the file values.
// Only variables that are set (non-empty) override anything.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT value %q", v)
		}
		cfg.Server.Port = port
	}

	strs := map[string]*string{
		"BASE_URL":             &cfg.Server.BaseURL,
		"TEMPLATE_DIR":         &cfg.Server.TemplateDir,
		"STATIC_DIR":           &cfg.Server.StaticDir,
		"DB_PATH":              &cfg.Database.Path,
		"JWT_SECRET":           &cfg.Auth.JWTSecret,
		"GOOGLE_CLIENT_ID":     &cfg.Auth.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": &cfg.Auth.GoogleClientSecret,
		"GOOGLE_CALLBACK_URL":  &cfg.Auth.GoogleCallbackURL,
		"BACKEND_URL":          &cfg.Backend.URL,
		"SMTP_HOST":            &cfg.Outreach.SMTPHost,
		"SMTP_USERNAME":        &cfg.Outreach.SMTPUsername,
		"SMTP_PASSWORD":        &cfg.Outreach.SMTPPassword,
		"OUTREACH_FROM":        &cfg.Outreach.FromAddress,
		"LOG_LEVEL":            &cfg.Logging.Level,
		"LOG_FORMAT":           &cfg.Logging.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// The dashboard used to read this one directly; keep accepting it.
	if v := os.Getenv("NEXT_PUBLIC_BACKEND_URL"); v != "" && os.Getenv("BACKEND_URL") == "" {
		cfg.Backend.URL = v
	}

	if v := os.Getenv("OUTREACH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid OUTREACH_ENABLED value %q", v)
		}
		cfg.Outreach.Enabled = enabled
	}

	if cfg.Auth.GoogleCallbackURL == "" {
		cfg.Auth.GoogleCallbackURL = cfg.Server.BaseURL + "/auth/google/callback"
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("config: database.path is required")
	}
	if c.Backend.URL == "" {
		return errors.New("config: backend.url is required")
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("config: backend.timeout must be > 0")
	}
	if c.Backend.PollInterval <= 0 {
		return errors.New("config: backend.poll_interval must be > 0")
	}
	if c.Auth.SignupCredits < 0 {
		return errors.New("config: auth.signup_credits must be >= 0")
	}
	if c.Outreach.Enabled {
		if c.Outreach.Interval <= 0 {
			return errors.New("config: outreach.interval must be > 0")
		}
		if c.Outreach.MaxPerDay <= 0 {
			return errors.New("config: outreach.max_per_day must be > 0")
		}
		if c.Outreach.SendsPerMinute <= 0 {
			return errors.New("config: outreach.sends_per_minute must be > 0")
		}
	}
	return nil
}

// GoogleEnabled reports whether Google OAuth credentials are configured.
func (c *Config) GoogleEnabled() bool {
	return c.Auth.GoogleClientID != "" && c.Auth.GoogleClientSecret != ""
}
