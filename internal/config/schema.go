// Package config defines the top-level YAML configuration schema and its
// loader. Component packages own their sections; this package aggregates
// them and applies cross-cutting validation.
package config

import (
	"fmt"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/provider/openaicompat"
	"github.com/parleyhq/parley/internal/quota"
	"github.com/parleyhq/parley/internal/store/sqlite"
	"github.com/parleyhq/parley/internal/telemetry"
)

// Config is the root configuration document.
type Config struct {
	Server   gateway.Config          `yaml:"server"`
	Store    sqlite.Config           `yaml:"store"`
	Provider openaicompat.Config     `yaml:"provider"`
	Engine   engine.Config           `yaml:"engine"`
	Quota    quota.Config            `yaml:"quota"`
	Tracing  telemetry.TracingConfig `yaml:"tracing"`
	Log      LogConfig               `yaml:"log"`
	Users    []UserConfig            `yaml:"users"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`

	// Format is "json" or "text". Defaults to text.
	Format string `yaml:"format"`
}

// Defaults sets default values for unset fields.
func (c *LogConfig) Defaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate returns an error if the configuration is malformed.
func (c *LogConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be debug, info, warn, or error, got %q", c.Level)
	}
	switch c.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format must be json or text, got %q", c.Format)
	}
	return nil
}

// UserConfig declares a chat user: their bearer token plus optional
// backend overrides. A user supplying their own api_key is exempt from
// the daily quota.
type UserConfig struct {
	ID        string `yaml:"id"`
	Token     string `yaml:"token"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Prompt    string `yaml:"prompt"`
	Unlimited bool   `yaml:"unlimited"`
}

// Defaults fills zero values across all sections.
func (c *Config) Defaults() {
	c.Server.Defaults()
	c.Store.Defaults()
	c.Provider.Defaults()
	c.Tracing.Defaults()
	c.Log.Defaults()
	c.Quota.Defaults()
}

// Validate checks every section plus user uniqueness.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if err := c.Quota.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}

	if len(c.Users) == 0 {
		return fmt.Errorf("config: at least one user is required")
	}
	ids := make(map[string]struct{}, len(c.Users))
	tokens := make(map[string]struct{}, len(c.Users))
	for i, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("config: users[%d]: id is required", i)
		}
		if u.Token == "" {
			return fmt.Errorf("config: user %q: token is required", u.ID)
		}
		if _, dup := ids[u.ID]; dup {
			return fmt.Errorf("config: duplicate user id %q", u.ID)
		}
		if _, dup := tokens[u.Token]; dup {
			return fmt.Errorf("config: duplicate token for user %q", u.ID)
		}
		ids[u.ID] = struct{}{}
		tokens[u.Token] = struct{}{}
	}

	return nil
}
