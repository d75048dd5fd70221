package common

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// fallbackRegion is used when neither the profile nor the caller names one.
const fallbackRegion = "us-east-1"

// DefaultAWSClientProvider is the production AWSClientProvider. It reads
// the standard shared config and credentials files through the SDK.
//
// Inject a ClientFactory via NewDefaultAWSClientProviderWithFactory to
// replace real SDK clients with fakes in unit tests.
type DefaultAWSClientProvider struct {
	factory ClientFactory
	// home overrides os.UserHomeDir in tests.
	home string
}

// NewDefaultAWSClientProvider returns a provider backed by the real AWS SDK.
func NewDefaultAWSClientProvider() *DefaultAWSClientProvider {
	return &DefaultAWSClientProvider{factory: NewClientSet}
}

// NewDefaultAWSClientProviderWithFactory returns a provider that uses f to
// create its clients.
func NewDefaultAWSClientProviderWithFactory(f ClientFactory) *DefaultAWSClientProvider {
	return &DefaultAWSClientProvider{factory: f}
}

// LoadProfile loads the SDK config for profile and resolves its account ID.
func (p *DefaultAWSClientProvider) LoadProfile(ctx context.Context, profile, region string) (*ProfileConfig, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS profile %q: %w", profileDisplayName(profile), err)
	}
	if cfg.Region == "" {
		cfg.Region = fallbackRegion
	}
	return p.resolve(ctx, profile, cfg)
}

// resolve completes a ProfileConfig from an already loaded aws.Config.
func (p *DefaultAWSClientProvider) resolve(ctx context.Context, profile string, cfg aws.Config) (*ProfileConfig, error) {
	accountID, err := resolveAccountID(ctx, p.factory(cfg).STS)
	if err != nil {
		return nil, fmt.Errorf("resolve account ID for profile %q: %w", profileDisplayName(profile), err)
	}
	return &ProfileConfig{
		ProfileName: profileDisplayName(profile),
		AccountID:   accountID,
		Region:      cfg.Region,
		Config:      cfg,
	}, nil
}

// GetActiveRegions returns the regions the account has opted into, sorted.
// DescribeRegions is answered from any region.
func (p *DefaultAWSClientProvider) GetActiveRegions(ctx context.Context, cfg *ProfileConfig) ([]string, error) {
	out, err := p.factory(cfg.Config).EC2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("describe regions for profile %q: %w", cfg.ProfileName, err)
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if name := aws.ToString(r.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	sort.Strings(regions)
	return regions, nil
}

// ConfigForRegion returns a copy of cfg.Config with Region set to region.
func (p *DefaultAWSClientProvider) ConfigForRegion(cfg *ProfileConfig, region string) aws.Config {
	regional := cfg.Config.Copy()
	regional.Region = region
	return regional
}

// ProfileNames returns every profile named in ~/.aws/credentials and
// ~/.aws/config, deduplicated and in file order.
func (p *DefaultAWSClientProvider) ProfileNames() ([]string, error) {
	home := p.home
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		home = h
	}

	var all []string
	seen := make(map[string]bool)
	sources := []struct {
		path        string
		stripPrefix bool
	}{
		{filepath.Join(home, ".aws", "credentials"), false},
		{filepath.Join(home, ".aws", "config"), true}, // "[profile name]"
	}
	for _, src := range sources {
		names, err := sectionNames(src.path, src.stripPrefix)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				all = append(all, n)
			}
		}
	}
	return all, nil
}

// ResolveRegions returns explicit when set, otherwise the active regions.
func ResolveRegions(ctx context.Context, p AWSClientProvider, cfg *ProfileConfig, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	return p.GetActiveRegions(ctx, cfg)
}

func profileDisplayName(profile string) string {
	if profile == "" {
		return "default"
	}
	return profile
}

func resolveAccountID(ctx context.Context, stsClient STSClient) (string, error) {
	out, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("STS GetCallerIdentity: %w", err)
	}
	if out.Account == nil {
		return "", fmt.Errorf("STS GetCallerIdentity returned nil account")
	}
	return aws.ToString(out.Account), nil
}

// sectionNames returns the INI section headers in path. A missing file
// yields nil without error.
func sectionNames(path string, stripProfilePrefix bool) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}
		name := strings.TrimSpace(line[1 : len(line)-1])
		if stripProfilePrefix && name != "default" {
			name = strings.TrimSpace(strings.TrimPrefix(name, "profile "))
		}
		names = append(names, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return names, nil
}
