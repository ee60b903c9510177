// Package config loads application configuration from a YAML file and
// JELLYFIN_TUI_* environment variables, environment winning.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	ServerURL      string
	ServerToken    string
	DBPath         string
	DownloadsDir   string
	SyncInterval   time.Duration
	PurgeThreshold int
	Offline        bool
	PreferTrackArt bool
	LogLevel       string
	LogFormat      string
}

// Load reads configuration. With an empty path the config file is searched in
// ~/.config/jellyfin-tui and the working directory and may be absent; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	v.SetDefault("server.url", "")
	v.SetDefault("server.token", "")
	v.SetDefault("data.db_path", filepath.Join(home, ".local", "share", "jellyfin-tui", "database.db"))
	v.SetDefault("data.downloads_dir", filepath.Join(home, "Music", "jellyfin-tui"))
	v.SetDefault("sync.interval", "10m")
	v.SetDefault("sync.purge_threshold", 3)
	v.SetDefault("sync.offline", false)
	v.SetDefault("downloads.prefer_track_art", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("JELLYFIN_TUI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".config", "jellyfin-tui"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	return &Config{
		ServerURL:      v.GetString("server.url"),
		ServerToken:    v.GetString("server.token"),
		DBPath:         v.GetString("data.db_path"),
		DownloadsDir:   v.GetString("data.downloads_dir"),
		SyncInterval:   v.GetDuration("sync.interval"),
		PurgeThreshold: v.GetInt("sync.purge_threshold"),
		Offline:        v.GetBool("sync.offline"),
		PreferTrackArt: v.GetBool("downloads.prefer_track_art"),
		LogLevel:       v.GetString("log.level"),
		LogFormat:      v.GetString("log.format"),
	}, nil
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var problems []string

	// server.url is only needed when we actually talk to the server.
	if c.ServerURL == "" {
		if !c.Offline {
			problems = append(problems, "server.url cannot be empty unless sync.offline is set")
		}
	} else {
		u, err := url.Parse(c.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("server.url is not a valid URL: %s", c.ServerURL))
		}
	}

	if c.ServerToken == "" && !c.Offline {
		problems = append(problems, "server.token cannot be empty unless sync.offline is set")
	}

	if c.DBPath == "" {
		problems = append(problems, "data.db_path cannot be empty")
	}
	if c.DownloadsDir == "" {
		problems = append(problems, "data.downloads_dir cannot be empty")
	}

	if c.SyncInterval <= 0 {
		problems = append(problems, fmt.Sprintf("sync.interval must be positive, got: %s", c.SyncInterval))
	}
	if c.PurgeThreshold < 1 {
		problems = append(problems, fmt.Sprintf("sync.purge_threshold must be at least 1, got: %d", c.PurgeThreshold))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		problems = append(problems, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		problems = append(problems, fmt.Sprintf("log.format must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}

	return nil
}
