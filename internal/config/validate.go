package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/logging"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/rules"
)

// Validate returns every problem found in c joined into one error, or nil.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !c.AWS.Enabled && !c.GCP.Enabled {
		add("no provider enabled: set aws.enabled or gcp.enabled")
	}
	if c.AWS.RateLimit < 0 {
		add("aws.rate_limit must not be negative")
	}
	if c.GCP.RateLimit < 0 {
		add("gcp.rate_limit must not be negative")
	}
	if c.GCP.Enabled && c.GCP.Project == "" {
		add("gcp.project is required when gcp is enabled")
	}

	if c.Scan.Workers < 1 {
		add("scan.workers must be at least 1, got %d", c.Scan.Workers)
	}
	if c.Scan.Timeout < 0 {
		add("scan.timeout must not be negative")
	}
	if c.Scan.ResourceTimeout <= 0 {
		add("scan.resource_timeout must be positive")
	}
	if c.Scan.Expiry < 0 {
		add("scan.expiry must not be negative")
	}
	if c.Scan.CheckpointEvery < 0 {
		add("scan.checkpoint_every must not be negative")
	}
	if c.Scan.ProviderRetries < 0 {
		add("scan.provider_retries must not be negative")
	}
	if _, err := rules.ParsePortSet(c.Scan.SensitivePorts); err != nil {
		errs = append(errs, err)
	}
	for _, k := range c.Scan.Kinds {
		if _, ok := models.ParseKind(k); !ok {
			add("scan.kinds: unknown kind %q", k)
		}
	}

	switch c.State.Backend {
	case "file", "sqlite":
	default:
		add("state.backend must be file or sqlite, got %q", c.State.Backend)
	}

	switch c.Notify.Channel {
	case "none", "log":
	case "sns":
		if !strings.HasPrefix(c.Notify.SNSTopicARN, "arn:") {
			add("notify.sns_topic_arn must be an SNS topic ARN, got %q", c.Notify.SNSTopicARN)
		}
	case "slack":
		u, err := url.Parse(c.Notify.SlackWebhookURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			add("notify.slack_webhook_url must be an https URL")
		}
	default:
		add("notify.channel must be none, log, sns or slack, got %q", c.Notify.Channel)
	}
	if c.Notify.MaxRetries < 0 {
		add("notify.max_retries must not be negative")
	}

	if !logging.ValidLevel(c.Logging.Level) {
		add("logging.level %q is not recognized", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
		add("watch.schedule %q: %v", c.Watch.Schedule, err)
	}

	return errors.Join(errs...)
}
