package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// POSTUREWATCH_SCAN_WORKERS or POSTUREWATCH_NOTIFY_SNS_TOPIC_ARN.
const EnvPrefix = "POSTUREWATCH"

// AppDir is the directory under the user's config home.
const AppDir = "posture-watch"

// NewViper returns a viper instance with defaults and environment
// overrides wired. The CLI binds its flags into it before loading.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aws.enabled", true)
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.regions", []string{})
	v.SetDefault("aws.rate_limit", 10.0)
	v.SetDefault("aws.burst", 5)

	v.SetDefault("gcp.enabled", false)
	v.SetDefault("gcp.project", "")
	v.SetDefault("gcp.credentials_file", "")
	v.SetDefault("gcp.rate_limit", 10.0)
	v.SetDefault("gcp.burst", 5)

	v.SetDefault("scan.workers", 8)
	v.SetDefault("scan.timeout", "10m")
	v.SetDefault("scan.resource_timeout", "2m")
	v.SetDefault("scan.sensitive_ports", []string{"22", "3389"})
	v.SetDefault("scan.expiry", "0s")
	v.SetDefault("scan.kinds", []string{})
	v.SetDefault("scan.checkpoint_every", 25)
	v.SetDefault("scan.provider_retries", 3)

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.path", "")

	v.SetDefault("notify.channel", "log")
	v.SetDefault("notify.sns_topic_arn", "")
	v.SetDefault("notify.slack_webhook_url", "")
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.timeout", "30s")

	v.SetDefault("policy.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("watch.schedule", "@every 1h")
	v.SetDefault("watch.listen", ":9090")
}

// FileLoader reads Config through viper from an explicit path, or from the
// default search path when Path is empty.
type FileLoader struct {
	Path  string
	Viper *viper.Viper

	// Home overrides the user's home directory in tests.
	Home string

	used string
}

// NewLoader returns a FileLoader for path using v (NewViper() when nil).
func NewLoader(path string, v *viper.Viper) *FileLoader {
	if v == nil {
		v = NewViper()
	}
	return &FileLoader{Path: path, Viper: v}
}

// ConfigPath implements Loader.
func (l *FileLoader) ConfigPath() string { return l.used }

// Load implements Loader. A missing default config file is not an error;
// a missing explicit one is.
func (l *FileLoader) Load() (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := l.Viper
	if l.Path != "" {
		v.SetConfigFile(l.Path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := l.configDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.Path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	l.used = v.ConfigFileUsed()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.State.Path == "" {
		cfg.State.Path = l.defaultStatePath(cfg.State.Backend)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (l *FileLoader) configDir() string {
	home := l.Home
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		home = h
	}
	return filepath.Join(home, ".config", AppDir)
}

func (l *FileLoader) defaultStatePath(backend string) string {
	name := "state.json"
	if backend == "sqlite" {
		name = "state.db"
	}
	dir := l.configDir()
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}
