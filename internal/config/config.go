// Package config handles application configuration from a YAML file and
// environment variables. Environment variables override file values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Title        string `yaml:"title"`
	Link         string `yaml:"link"`
	ContentDir   string `yaml:"content_dir"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	DatabasePath string `yaml:"database_path"`
	LogLevel     string `yaml:"log_level"`

	EnableWebmentions       bool     `yaml:"enable_webmentions"`
	WebmentionsHardDelete   bool     `yaml:"webmentions_hard_delete"`
	ThrottleSecondsOnUpdate int      `yaml:"throttle_seconds_on_update"`
	ExcludeDomains          []string `yaml:"exclude_domains"`

	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   int64  `yaml:"telegram_chat_id"`
}

// Load reads configuration from the given YAML file (if path is non-empty
// and the file exists) and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Title:                   "Blog",
		Host:                    "0.0.0.0",
		Port:                    8000,
		ContentDir:              ".",
		DatabasePath:            "./data/mdblog.db",
		LogLevel:                "info",
		EnableWebmentions:       true,
		ThrottleSecondsOnUpdate: 10,
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Link == "" {
		return nil, fmt.Errorf("link is required")
	}
	if _, err := url.Parse(cfg.Link); err != nil {
		return nil, fmt.Errorf("invalid link %q: %w", cfg.Link, err)
	}
	cfg.Link = strings.TrimRight(cfg.Link, "/")
	if cfg.ThrottleSecondsOnUpdate <= 0 {
		cfg.ThrottleSecondsOnUpdate = 10
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("MDBLOG_TITLE"); v != "" {
		cfg.Title = v
	}
	if v := os.Getenv("MDBLOG_LINK"); v != "" {
		cfg.Link = v
	}
	if v := os.Getenv("MDBLOG_CONTENT_DIR"); v != "" {
		cfg.ContentDir = v
	}
	if v := os.Getenv("MDBLOG_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("MDBLOG_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MDBLOG_PORT %q: %w", v, err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("MDBLOG_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("MDBLOG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MDBLOG_ENABLE_WEBMENTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MDBLOG_ENABLE_WEBMENTIONS %q: %w", v, err)
		}
		cfg.EnableWebmentions = b
	}
	if v := os.Getenv("MDBLOG_WEBMENTIONS_HARD_DELETE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MDBLOG_WEBMENTIONS_HARD_DELETE %q: %w", v, err)
		}
		cfg.WebmentionsHardDelete = b
	}
	if v := os.Getenv("MDBLOG_THROTTLE_SECONDS_ON_UPDATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MDBLOG_THROTTLE_SECONDS_ON_UPDATE %q: %w", v, err)
		}
		cfg.ThrottleSecondsOnUpdate = n
	}
	if v := os.Getenv("MDBLOG_EXCLUDE_DOMAINS"); v != "" {
		cfg.ExcludeDomains = nil
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			cfg.ExcludeDomains = append(cfg.ExcludeDomains, s)
		}
	}
	if v := os.Getenv("MDBLOG_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramBotToken = v
	}
	if v := os.Getenv("MDBLOG_TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MDBLOG_TELEGRAM_CHAT_ID %q: %w", v, err)
		}
		cfg.TelegramChatID = id
	}
	return nil
}

// SiteHost returns the host part of the configured site link.
func (c *Config) SiteHost() string {
	u, err := url.Parse(c.Link)
	if err != nil {
		return ""
	}
	return u.Host
}

// IsExcludedDomain reports whether outbound notifications to the given host
// are suppressed. The site's own host is always excluded.
func (c *Config) IsExcludedDomain(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(host, c.SiteHost()) {
		return true
	}
	for _, d := range c.ExcludeDomains {
		if strings.EqualFold(host, d) {
			return true
		}
	}
	return false
}
