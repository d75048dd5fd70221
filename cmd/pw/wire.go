package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	snssvc "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/config"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/engine"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/metrics"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/notify"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/policy"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/providers/aws/common"
	awsposture "github.com/pankaj-dahiya-devops/posture-watch/internal/providers/aws/posture"
	gcpstorage "github.com/pankaj-dahiya-devops/posture-watch/internal/providers/gcp/storage"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/rulepacks/posture"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

// defaultPolicyFile is read from the working directory when no policy
// path is configured.
const defaultPolicyFile = "pw.yaml"

// openStore opens the configured state backend.
func openStore(cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := state.OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file", "":
		return state.NewFileStore(cfg.Path), nil
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
}

// readOnlyStore loads real state but discards saves (pw scan --dry-run).
type readOnlyStore struct {
	state.Store
}

func (readOnlyStore) Save(context.Context, *state.ScanState) error { return nil }

// loadPolicy loads path, or ./pw.yaml when path is empty and the file
// exists. No file yields a nil config, which enables every rule.
func loadPolicy(path string) (*policy.PolicyConfig, error) {
	if path == "" {
		if _, err := os.Stat(defaultPolicyFile); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("stat policy file: %w", err)
		}
		path = defaultPolicyFile
	}
	cfg, err := policy.LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	if errs := policy.Validate(cfg, posture.NewRegistry().IDs()); len(errs) > 0 {
		return nil, fmt.Errorf("policy %s: %w", path, errors.Join(errs...))
	}
	return cfg, nil
}

// scope is what buildEnumerators resolved: the enumerators to run, the
// request describing them, and the AWS profile when AWS is enabled.
type scope struct {
	enumerators []engine.Enumerator
	request     engine.ScanRequest
	aws         *common.ProfileConfig
	closers     []func() error
}

func (s *scope) Close() {
	for _, c := range s.closers {
		_ = c()
	}
}

func homeRegion(regions []string) string {
	if len(regions) > 0 {
		return regions[0]
	}
	return ""
}

// buildEnumerators resolves credentials and returns an enumerator per
// enabled provider.
func buildEnumerators(ctx context.Context, cfg *config.Config, provider common.AWSClientProvider, logger zerolog.Logger) (*scope, error) {
	sc := &scope{}
	if cfg.AWS.Enabled {
		pcfg, err := provider.LoadProfile(ctx, cfg.AWS.Profile, homeRegion(cfg.AWS.Regions))
		if err != nil {
			return nil, err
		}
		regions, err := common.ResolveRegions(ctx, provider, pcfg, cfg.AWS.Regions)
		if err != nil {
			return nil, fmt.Errorf("resolve regions: %w", err)
		}
		sc.aws = pcfg
		sc.enumerators = append(sc.enumerators, awsposture.NewEnumerator(pcfg, regions, awsposture.Options{
			RatePerSecond: cfg.AWS.RateLimit,
			Burst:         cfg.AWS.Burst,
		}))
		sc.request = engine.ScanRequest{Profile: pcfg.ProfileName, AccountID: pcfg.AccountID, Regions: regions}
		logger.Info().
			Str("profile", pcfg.ProfileName).
			Str("account", pcfg.AccountID).
			Int("regions", len(regions)).
			Msg("aws profile loaded")
	}
	if cfg.GCP.Enabled {
		var opts []option.ClientOption
		if cfg.GCP.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsFile))
		}
		e, err := gcpstorage.NewEnumerator(ctx, cfg.GCP.Project, gcpstorage.Options{
			RatePerSecond: cfg.GCP.RateLimit,
			Burst:         cfg.GCP.Burst,
		}, opts...)
		if err != nil {
			sc.Close()
			return nil, err
		}
		sc.enumerators = append(sc.enumerators, e)
		sc.closers = append(sc.closers, e.Close)
		if sc.request.AccountID == "" {
			sc.request.AccountID = cfg.GCP.Project
		}
	}
	return sc, nil
}

// buildNotifier returns the configured channel wrapped with retries.
// dryRun forces the log notifier.
func buildNotifier(ctx context.Context, cfg *config.Config, sc *scope, provider common.AWSClientProvider, dryRun bool, logger zerolog.Logger) (notify.Notifier, error) {
	channel := cfg.Notify.Channel
	if dryRun {
		channel = "log"
	}

	var n notify.Notifier
	switch channel {
	case "none":
		return notify.Nop{}, nil
	case "log":
		return &notify.LogNotifier{Logger: logger.With().Str("component", "notify").Logger()}, nil
	case "sns":
		topic, err := arn.Parse(cfg.Notify.SNSTopicARN)
		if err != nil {
			return nil, fmt.Errorf("parse sns topic arn: %w", err)
		}
		pcfg := sc.aws
		if pcfg == nil {
			if pcfg, err = provider.LoadProfile(ctx, cfg.AWS.Profile, topic.Region); err != nil {
				return nil, err
			}
		}
		client := snssvc.NewFromConfig(provider.ConfigForRegion(pcfg, topic.Region))
		n = notify.NewSNSNotifier(client, cfg.Notify.SNSTopicARN)
	case "slack":
		n = notify.NewSlackNotifier(cfg.Notify.SlackWebhookURL, &http.Client{Timeout: cfg.Notify.Timeout})
	default:
		return nil, fmt.Errorf("unknown notify channel %q", channel)
	}

	retry := notify.DefaultRetryPolicy
	retry.MaxRetries = uint64(cfg.Notify.MaxRetries)
	if cfg.Notify.Timeout > 0 {
		retry.Timeout = cfg.Notify.Timeout
	}
	return notify.WithRetry(n, retry, logger), nil
}

// scanSetup is everything one or more scan runs share.
type scanSetup struct {
	scanner *engine.Scanner
	request engine.ScanRequest
	policy  *policy.PolicyConfig
	cleanup func()
}

// buildScanner opens everything a scan needs. The caller must call
// cleanup, which closes the store and provider clients.
func buildScanner(ctx context.Context, a *app, provider common.AWSClientProvider, dryRun bool, m *metrics.Metrics) (*scanSetup, error) {
	cfg := a.cfg
	pol, err := loadPolicy(cfg.Policy.Path)
	if err != nil {
		return nil, err
	}
	ports, err := cfg.PortSet()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.State)
	if err != nil {
		return nil, err
	}
	if dryRun {
		store = readOnlyStore{store}
	}

	sc, err := buildEnumerators(ctx, cfg, provider, a.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cleanup := func() {
		sc.Close()
		_ = store.Close()
	}

	notifier, err := buildNotifier(ctx, cfg, sc, provider, dryRun, a.logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	scanner := engine.NewScanner(sc.enumerators, posture.NewRegistry(), store, notifier, pol, engine.Options{
		Workers:         cfg.Scan.Workers,
		ScanTimeout:     cfg.Scan.Timeout,
		ResourceTimeout: cfg.Scan.ResourceTimeout,
		SensitivePorts:  ports,
		Expiry:          cfg.Scan.Expiry,
		Kinds:           cfg.ResourceKinds(),
		CheckpointEvery: cfg.Scan.CheckpointEvery,
		ProviderRetries: uint64(cfg.Scan.ProviderRetries),
		Logger:          a.logger,
		Metrics:         m,
	})
	return &scanSetup{scanner: scanner, request: sc.request, policy: pol, cleanup: cleanup}, nil
}
