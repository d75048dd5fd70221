// Package awsposture enumerates the AWS resources evaluated by the posture
// rules: S3 buckets, IAM roles and EC2 instances.
//
// Listing returns identities only. Fetch retrieves the configuration one
// resource needs for evaluation, calling the resource's own region. Every
// SDK call waits on a shared rate limiter, and every error is classified as
// transient or permanent for the scanner's retry logic.
package awsposture

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/providers/aws/common"
)

// ProviderName is the provider component of every ResourceRef produced here.
const ProviderName = "aws"

// Options tunes an Enumerator.
type Options struct {
	// RatePerSecond caps SDK calls across all resource kinds. Zero means
	// unlimited.
	RatePerSecond float64
	// Burst is the limiter bucket size; defaults to 1.
	Burst int
}

// Enumerator implements the scanner's Enumerator for one AWS account.
type Enumerator struct {
	profile *common.ProfileConfig
	regions []string
	factory clientFactory
	limiter *rate.Limiter

	mu      sync.Mutex
	clients map[string]*postureClients

	// Listing results reused by Fetch so it does not repeat the lookup.
	roles     sync.Map // role name → roleSummary
	instances sync.Map // region/instance ID → instanceSummary
	managed   sync.Map // policy ARN → document text, reset by listRoles
	managedMu sync.Mutex
}

type roleSummary struct {
	arn, path, trustPolicy string
}

type instanceSummary struct {
	state    string
	groupIDs []string
	tags     map[string]string
}

// NewEnumerator returns an Enumerator for profile scanning regions.
func NewEnumerator(profile *common.ProfileConfig, regions []string, opts Options) *Enumerator {
	return newEnumeratorWithFactory(profile, regions, opts, newDefaultClients)
}

func newEnumeratorWithFactory(profile *common.ProfileConfig, regions []string, opts Options, f clientFactory) *Enumerator {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Enumerator{
		profile: profile,
		regions: slices.Clone(regions),
		factory: f,
		limiter: rate.NewLimiter(limit, burst),
		clients: make(map[string]*postureClients),
	}
}

func (e *Enumerator) Provider() string  { return ProviderName }
func (e *Enumerator) AccountID() string { return e.profile.AccountID }

func (e *Enumerator) Kinds() []models.ResourceKind {
	return []models.ResourceKind{models.KindBucket, models.KindRole, models.KindInstance}
}

// List returns the refs of every resource of kind.
func (e *Enumerator) List(ctx context.Context, kind models.ResourceKind) ([]models.ResourceRef, error) {
	switch kind {
	case models.KindBucket:
		return e.listBuckets(ctx)
	case models.KindRole:
		return e.listRoles(ctx)
	case models.KindInstance:
		return e.listInstances(ctx)
	}
	return nil, fmt.Errorf("aws enumerator: unsupported kind %q", kind)
}

// Fetch returns the payload of one resource.
func (e *Enumerator) Fetch(ctx context.Context, ref models.ResourceRef) (models.Payload, error) {
	switch ref.Kind {
	case models.KindBucket:
		return e.fetchBucket(ctx, ref)
	case models.KindRole:
		return e.fetchRole(ctx, ref)
	case models.KindInstance:
		return e.fetchInstance(ctx, ref)
	}
	return models.Payload{}, fmt.Errorf("aws enumerator: unsupported kind %q", ref.Kind)
}

// clientsFor returns (and caches) the clients for region. An empty region
// means the profile's home region.
func (e *Enumerator) clientsFor(region string) *postureClients {
	if region == "" || region == models.RegionGlobal {
		region = e.profile.Region
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[region]; ok {
		return c
	}
	cfg := e.profile.Config.Copy()
	cfg.Region = region
	c := e.factory(cfg)
	e.clients[region] = c
	return c
}

// wait blocks until the rate limiter admits one more call.
func (e *Enumerator) wait(ctx context.Context) error {
	return e.limiter.Wait(ctx)
}

func (e *Enumerator) ref(kind models.ResourceKind, id, region string) models.ResourceRef {
	return models.ResourceRef{
		Provider:  ProviderName,
		AccountID: e.profile.AccountID,
		Kind:      kind,
		ID:        id,
		Region:    region,
	}
}
