// Package config loads pw's runtime configuration.
//
// Values are resolved in this order: command-line flags bound by the CLI,
// POSTUREWATCH_* environment variables (a .env file in the working
// directory is read first), the YAML config file, then the defaults below.
// The file lives at ~/.config/posture-watch/config.yaml unless --config
// names another one. It must never be committed with real secrets.
package config

import (
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/rules"
)

// Config is the top-level application configuration.
type Config struct {
	AWS     AWSConfig     `mapstructure:"aws"`
	GCP     GCPConfig     `mapstructure:"gcp"`
	Scan    ScanConfig    `mapstructure:"scan"`
	State   StateConfig   `mapstructure:"state"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Logging LoggingConfig `mapstructure:"logging"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// AWSConfig selects the AWS account and regions to scan.
type AWSConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Profile is the shared-config profile. Empty means the SDK default
	// credential chain.
	Profile string `mapstructure:"profile"`

	// Regions to scan for regional resources. Empty means every region
	// enabled for the account.
	Regions []string `mapstructure:"regions"`

	// RateLimit caps AWS API calls per second; Burst is the bucket size.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// GCPConfig selects the GCP project whose buckets are scanned.
type GCPConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Project         string `mapstructure:"project"`
	CredentialsFile string `mapstructure:"credentials_file"`

	// RateLimit caps Cloud Storage API calls per second; Burst is the bucket size.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// ScanConfig tunes the scanner.
type ScanConfig struct {
	Workers         int           `mapstructure:"workers"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ResourceTimeout time.Duration `mapstructure:"resource_timeout"`
	SensitivePorts  []string      `mapstructure:"sensitive_ports"`

	// Expiry is how long a notified finding stays suppressed. Zero means
	// until it is remediated.
	Expiry time.Duration `mapstructure:"expiry"`

	Kinds           []string `mapstructure:"kinds"`
	CheckpointEvery int      `mapstructure:"checkpoint_every"`
	ProviderRetries int      `mapstructure:"provider_retries"`
}

// StateConfig selects where fingerprints persist between scans.
type StateConfig struct {
	// Backend is "file" (JSON) or "sqlite".
	Backend string `mapstructure:"backend"`
	// Path defaults to a file under ~/.config/posture-watch.
	Path string `mapstructure:"path"`
}

// NotifyConfig selects the notification channel.
type NotifyConfig struct {
	// Channel is "none", "log", "sns" or "slack".
	Channel         string        `mapstructure:"channel"`
	SNSTopicARN     string        `mapstructure:"sns_topic_arn"`
	SlackWebhookURL string        `mapstructure:"slack_webhook_url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// PolicyConfig points at the optional posture policy file.
type PolicyConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WatchConfig configures `pw watch`.
type WatchConfig struct {
	// Schedule is a standard cron expression or descriptor ("@every 1h").
	Schedule string `mapstructure:"schedule"`
	// Listen is the address of the metrics and health endpoints.
	Listen string `mapstructure:"listen"`
}

// PortSet parses Scan.SensitivePorts.
func (c *Config) PortSet() (rules.PortSet, error) {
	if len(c.Scan.SensitivePorts) == 0 {
		return rules.DefaultSensitivePorts, nil
	}
	return rules.ParsePortSet(c.Scan.SensitivePorts)
}

// ResourceKinds parses Scan.Kinds. Unknown names are reported by Validate
// and skipped here.
func (c *Config) ResourceKinds() []models.ResourceKind {
	var out []models.ResourceKind
	for _, s := range c.Scan.Kinds {
		if k, ok := models.ParseKind(s); ok {
			out = append(out, k)
		}
	}
	return out
}

// Loader is the interface for reading Config.
type Loader interface {
	// Load reads, parses, and validates the configuration.
	Load() (*Config, error)

	// ConfigPath returns the config file in use, or "" when none was found.
	ConfigPath() string
}
