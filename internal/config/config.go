package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "DAILYVERSE"
	defaultHTTPAddress        = "127.0.0.1:8080"
	defaultDatabasePath       = "dailyverse.db"
	defaultLogLevel           = "info"
	defaultTimezone           = "local"
	defaultRetentionDays      = 90
	defaultFreeExtraVerses    = 1
	defaultFreeFavorites      = 3
	defaultMergeWindowSeconds = 60
)

// AppConfig captures runtime configuration for the service and the CLI.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	VersesPath         string
	PassagesPath       string
	Timezone           string
	LogLevel           string
	RetentionDays      int
	FreeExtraVerses    int
	FreeFavorites      int
	MergeWindowSeconds int
}

// MergeWindow returns the history merge window as a duration.
func (c AppConfig) MergeWindow() time.Duration {
	return time.Duration(c.MergeWindowSeconds) * time.Second
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("content.verses_path", "")
	configViper.SetDefault("content.passages_path", "")
	configViper.SetDefault("calendar.timezone", defaultTimezone)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("streak.retention_days", defaultRetentionDays)
	configViper.SetDefault("policy.free_extra_verses", defaultFreeExtraVerses)
	configViper.SetDefault("policy.free_favorites", defaultFreeFavorites)
	configViper.SetDefault("history.merge_window_seconds", defaultMergeWindowSeconds)
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		VersesPath:         configViper.GetString("content.verses_path"),
		PassagesPath:       configViper.GetString("content.passages_path"),
		Timezone:           configViper.GetString("calendar.timezone"),
		LogLevel:           configViper.GetString("log.level"),
		RetentionDays:      configViper.GetInt("streak.retention_days"),
		FreeExtraVerses:    configViper.GetInt("policy.free_extra_verses"),
		FreeFavorites:      configViper.GetInt("policy.free_favorites"),
		MergeWindowSeconds: configViper.GetInt("history.merge_window_seconds"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	zone := strings.TrimSpace(c.Timezone)
	if zone != "" && !strings.EqualFold(zone, "local") {
		if _, err := time.LoadLocation(zone); err != nil {
			return fmt.Errorf("calendar.timezone %q is invalid: %w", zone, err)
		}
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("streak.retention_days must be positive")
	}
	if c.FreeExtraVerses < 1 {
		return fmt.Errorf("policy.free_extra_verses must be at least 1")
	}
	if c.FreeFavorites < 1 {
		return fmt.Errorf("policy.free_favorites must be at least 1")
	}
	if c.MergeWindowSeconds <= 0 {
		return fmt.Errorf("history.merge_window_seconds must be positive")
	}
	return nil
}
