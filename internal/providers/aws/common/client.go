package common

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// ProfileConfig is a resolved AWS profile: the SDK configuration plus the
// account it authenticates as. It is what the posture enumerator and the
// SNS notifier are built from.
type ProfileConfig struct {
	// ProfileName is the name from ~/.aws/config, or "default".
	ProfileName string

	// AccountID is the account resolved via STS GetCallerIdentity.
	AccountID string

	// Region is the home region. Global services (IAM, S3 ListBuckets) are
	// called here.
	Region string

	// Config is the fully loaded AWS SDK v2 configuration.
	Config aws.Config
}

// AWSClientProvider resolves credentials, the account ID and the set of
// regions to scan. It is the only place the CLI touches AWS credentials.
//
// Implementations must use the AWS SDK v2 only. Never call the aws CLI.
type AWSClientProvider interface {
	// LoadProfile returns a ProfileConfig for the named profile. An empty
	// profile means the SDK default chain; a non-empty region overrides the
	// profile's home region.
	LoadProfile(ctx context.Context, profile, region string) (*ProfileConfig, error)

	// ProfileNames lists the profiles defined in the shared config files.
	ProfileNames() ([]string, error)

	// GetActiveRegions returns the regions enabled for the account.
	GetActiveRegions(ctx context.Context, cfg *ProfileConfig) ([]string, error)

	// ConfigForRegion clones cfg with the target region set.
	ConfigForRegion(cfg *ProfileConfig, region string) aws.Config
}
