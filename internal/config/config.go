// SPDX-License-Identifier: MIT

// Package config loads and validates the server configuration from an INI file.
package config

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/ini.v1"
)

// Config is the enumerated server configuration. Zero values are replaced
// by defaults in Default; Validate enforces the required keys.
type Config struct {
	// [general]
	ListenHost                       string
	ListenPort                       int
	AuthUsername                     string
	AuthPassword                     string
	CooldownHours                    int
	RateLimitMinutes                 int
	RateLimitNumber                  int
	StrictRateLimitMinutes           int
	AllowRateLimitOverrideWhenBurned bool
	ForceReleaseDays                 int

	// [database]
	DBHost string
	DBPort int
	DBUser string
	DBPass string
	DBName string
}

// Default returns the configuration defaults applied before any file is read.
func Default() Config {
	return Config{
		ListenHost:                       "127.0.0.1",
		ListenPort:                       9009,
		CooldownHours:                    24,
		RateLimitMinutes:                 60,
		RateLimitNumber:                  3,
		StrictRateLimitMinutes:           5,
		AllowRateLimitOverrideWhenBurned: true,
		ForceReleaseDays:                 30,
		DBHost:                           "127.0.0.1",
		DBPort:                           3306,
	}
}

// Load reads the INI file at path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	general := file.Section("general")
	cfg.ListenHost = general.Key("listen_host").MustString(cfg.ListenHost)
	cfg.ListenPort = general.Key("listen_port").MustInt(cfg.ListenPort)
	cfg.AuthUsername = general.Key("auth_username").String()
	cfg.AuthPassword = general.Key("auth_password").String()
	cfg.CooldownHours = general.Key("cooldown").MustInt(cfg.CooldownHours)
	cfg.RateLimitMinutes = general.Key("rate_limit_minutes").MustInt(cfg.RateLimitMinutes)
	cfg.RateLimitNumber = general.Key("rate_limit_number").MustInt(cfg.RateLimitNumber)
	cfg.StrictRateLimitMinutes = general.Key("strict_rate_limit_minutes").MustInt(cfg.StrictRateLimitMinutes)
	cfg.AllowRateLimitOverrideWhenBurned = general.Key("allow_rate_limit_override_when_burned").
		MustBool(cfg.AllowRateLimitOverrideWhenBurned)
	cfg.ForceReleaseDays = general.Key("force_release_days").MustInt(cfg.ForceReleaseDays)

	database := file.Section("database")
	cfg.DBHost = database.Key("host").MustString(cfg.DBHost)
	cfg.DBPort = database.Key("port").MustInt(cfg.DBPort)
	cfg.DBUser = database.Key("user").String()
	cfg.DBPass = database.Key("pass").String()
	cfg.DBName = database.Key("db").String()

	return cfg, nil
}

// Validate fails fast on missing required settings.
func (c Config) Validate() error {
	var missing []string
	if c.AuthUsername == "" {
		missing = append(missing, "general.auth_username")
	}
	if c.AuthPassword == "" {
		missing = append(missing, "general.auth_password")
	}
	if c.DBUser == "" {
		missing = append(missing, "database.user")
	}
	if c.DBPass == "" {
		missing = append(missing, "database.pass")
	}
	if c.DBName == "" {
		missing = append(missing, "database.db")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}
	if c.RateLimitNumber <= 0 {
		return errors.New("rate_limit_number must be positive")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// DSN builds the MySQL connection string from the [database] section.
func (c Config) DSN() string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.DBHost, c.DBPort)
	mc.User = c.DBUser
	mc.Passwd = c.DBPass
	mc.DBName = c.DBName
	return mc.FormatDSN()
}

// CooldownSeconds returns the cooldown window in seconds.
func (c Config) CooldownSeconds() int64 {
	return int64(c.CooldownHours) * 60 * 60
}

// StrictRateLimitSeconds returns the burst-limit window in seconds.
func (c Config) StrictRateLimitSeconds() int64 {
	return int64(c.StrictRateLimitMinutes) * 60
}

// RateLimitWindowSeconds returns the period-limit window in seconds.
func (c Config) RateLimitWindowSeconds() int64 {
	return int64(c.RateLimitMinutes) * 60
}

// ForceReleaseSeconds returns the stale-lease reclaim threshold in seconds.
func (c Config) ForceReleaseSeconds() int64 {
	return int64(c.ForceReleaseDays) * 24 * 60 * 60
}
