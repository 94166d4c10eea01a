// Package config loads server configuration from an optional YAML file
// with TENANTDB_* environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds everything the server needs to run.
type Config struct {
	Listen   string         `mapstructure:"listen"`
	Registry RegistryConfig `mapstructure:"registry"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Naming   NamingConfig   `mapstructure:"naming"`
	Paths    PathsConfig    `mapstructure:"paths"`
	History  HistoryConfig  `mapstructure:"history"`
}

// HistoryConfig controls the operation log. RetentionDays of zero disables
// pruning.
type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// RegistryConfig describes the platform database holding instance rows.
type RegistryConfig struct {
	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
}

// AdminConfig describes the administrative MySQL endpoint that owns the
// tenant databases.
type AdminConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// NamingConfig controls physical database naming.
type NamingConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// PathsConfig locates migration scripts and the backup directory.
type PathsConfig struct {
	Migrations string `mapstructure:"migrations"`
	Backups    string `mapstructure:"backups"`
}

// BaselineDir returns the baseline schema migration directory.
func (p PathsConfig) BaselineDir() string {
	return filepath.Join(p.Migrations, "baseline")
}

// FeaturesDir returns the root holding one subdirectory per feature.
func (p PathsConfig) FeaturesDir() string {
	return filepath.Join(p.Migrations, "features")
}

// Load reads configuration. path may be empty, in which case defaults and
// environment variables apply. Environment keys use the TENANTDB_ prefix
// with underscores, e.g. TENANTDB_ADMIN_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("registry.dialect", "sqlite")
	v.SetDefault("registry.dsn", "tenantdb.sqlite")
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 3306)
	v.SetDefault("admin.user", "root")
	v.SetDefault("admin.password", "")
	v.SetDefault("naming.prefix", "sf")
	v.SetDefault("paths.migrations", "migrations")
	v.SetDefault("paths.backups", "backups")
	v.SetDefault("history.retention_days", 90)

	v.SetEnvPrefix("TENANTDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	switch cfg.Registry.Dialect {
	case "sqlite", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported registry dialect %q", cfg.Registry.Dialect)
	}
	return &cfg, nil
}
