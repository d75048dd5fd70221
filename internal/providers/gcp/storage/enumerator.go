// Package gcpstorage enumerates Cloud Storage buckets in one GCP project.
// Bucket IAM bindings and legacy ACL entries are reported as members so
// allUsers and allAuthenticatedUsers map onto the same public grants the
// S3 rules evaluate.
package gcpstorage

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

// ProviderName is the provider component of every ResourceRef produced here.
const ProviderName = "gcp"

const (
	memberAllUsers              = "allUsers"
	memberAllAuthenticatedUsers = "allAuthenticatedUsers"
)

// Options tunes an Enumerator.
type Options struct {
	RatePerSecond float64
	Burst         int
}

// Enumerator lists and fetches buckets for a project.
type Enumerator struct {
	project string
	api     bucketAPI
	limiter *rate.Limiter

	buckets sync.Map // bucket name → bucketInfo
}

// NewEnumerator creates a storage client with clientOpts (credentials,
// endpoint) and returns an Enumerator for project. Close releases the
// client.
func NewEnumerator(ctx context.Context, project string, opts Options, clientOpts ...option.ClientOption) (*Enumerator, error) {
	if project == "" {
		return nil, fmt.Errorf("gcp enumerator: project is required")
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return newEnumeratorWithAPI(project, opts, &storageAdapter{client: client}), nil
}

func newEnumeratorWithAPI(project string, opts Options, api bucketAPI) *Enumerator {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Enumerator{project: project, api: api, limiter: rate.NewLimiter(limit, burst)}
}

func (e *Enumerator) Provider() string  { return ProviderName }
func (e *Enumerator) AccountID() string { return e.project }

func (e *Enumerator) Kinds() []models.ResourceKind {
	return []models.ResourceKind{models.KindBucket}
}

// Close releases the underlying storage client.
func (e *Enumerator) Close() error { return e.api.Close() }

// List returns one ref per bucket in the project.
func (e *Enumerator) List(ctx context.Context, kind models.ResourceKind) ([]models.ResourceRef, error) {
	if kind != models.KindBucket {
		return nil, fmt.Errorf("gcp enumerator: unsupported kind %q", kind)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	infos, err := e.api.ListBuckets(ctx, e.project)
	if err != nil {
		return nil, classify("storage list buckets", err)
	}
	refs := make([]models.ResourceRef, 0, len(infos))
	for _, info := range infos {
		if info.Name == "" {
			continue
		}
		e.buckets.Store(info.Name, info)
		refs = append(refs, e.ref(info))
	}
	return refs, nil
}

// Fetch reads the bucket's IAM policy. A permission error on the policy
// leaves access unknown rather than failing the bucket.
func (e *Enumerator) Fetch(ctx context.Context, ref models.ResourceRef) (models.Payload, error) {
	if ref.Kind != models.KindBucket {
		return models.Payload{}, fmt.Errorf("gcp enumerator: unsupported kind %q", ref.Kind)
	}
	info, err := e.bucketInfo(ctx, ref.ID)
	if err != nil {
		return models.Payload{}, err
	}

	body := &models.BucketPayload{
		ACLKnown:     true,
		PolicyKnown:  true,
		Members:      make(map[string][]string),
		CreationDate: info.Created,
	}
	if !info.UniformAccess {
		for role, entities := range info.ACL {
			body.Members["acl:"+role] = append(body.Members["acl:"+role], entities...)
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return models.Payload{}, err
	}
	members, err := e.api.BucketMembers(ctx, ref.ID)
	switch {
	case err == nil:
		for role, m := range members {
			body.Members[role] = append(body.Members[role], m...)
		}
	case isPermissionDenied(err):
		body.ACLKnown = false
	default:
		return models.Payload{}, classify("storage get bucket iam policy", err)
	}

	// Public access prevention overrides any public binding.
	if info.PublicAccessPrevented {
		for role, m := range body.Members {
			body.Members[role] = dropPublic(m)
		}
	}

	if ref.Region == "" {
		ref.Region = info.Location
	}
	return models.Payload{Ref: ref, Bucket: body}, nil
}

func (e *Enumerator) bucketInfo(ctx context.Context, name string) (bucketInfo, error) {
	if v, ok := e.buckets.Load(name); ok {
		return v.(bucketInfo), nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return bucketInfo{}, err
	}
	info, err := e.api.Bucket(ctx, name)
	if err != nil {
		return bucketInfo{}, classify("storage get bucket attrs", err)
	}
	return info, nil
}

func (e *Enumerator) ref(info bucketInfo) models.ResourceRef {
	return models.ResourceRef{
		Provider:  ProviderName,
		AccountID: e.project,
		Kind:      models.KindBucket,
		ID:        info.Name,
		Region:    info.Location,
	}
}

func dropPublic(members []string) []string {
	out := members[:0:0]
	for _, m := range members {
		if m == memberAllUsers || m == memberAllAuthenticatedUsers {
			continue
		}
		out = append(out, m)
	}
	return out
}
