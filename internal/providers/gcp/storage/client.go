package gcpstorage

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// bucketInfo is the subset of bucket attributes the enumerator reads.
type bucketInfo struct {
	Name     string
	Location string
	Created  string

	// ACL maps an ACL role ("READER", "WRITER", "OWNER") to entities.
	ACL                   map[string][]string
	UniformAccess         bool
	PublicAccessPrevented bool
}

// bucketAPI is the narrow storage interface used by the enumerator.
// Injection point: tests replace it with an in-memory fake.
type bucketAPI interface {
	ListBuckets(ctx context.Context, project string) ([]bucketInfo, error)
	Bucket(ctx context.Context, name string) (bucketInfo, error)
	// BucketMembers returns the bucket IAM policy as role → members.
	BucketMembers(ctx context.Context, name string) (map[string][]string, error)
	Close() error
}

// storageAdapter implements bucketAPI over *storage.Client.
type storageAdapter struct {
	client *storage.Client
}

func (a *storageAdapter) ListBuckets(ctx context.Context, project string) ([]bucketInfo, error) {
	it := a.client.Buckets(ctx, project)
	var out []bucketInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, infoFromAttrs(attrs))
	}
	return out, nil
}

func (a *storageAdapter) Bucket(ctx context.Context, name string) (bucketInfo, error) {
	attrs, err := a.client.Bucket(name).Attrs(ctx)
	if err != nil {
		return bucketInfo{}, err
	}
	return infoFromAttrs(attrs), nil
}

func (a *storageAdapter) BucketMembers(ctx context.Context, name string) (map[string][]string, error) {
	policy, err := a.client.Bucket(name).IAM().Policy(ctx)
	if err != nil {
		return nil, err
	}
	members := make(map[string][]string)
	for _, role := range policy.Roles() {
		members[string(role)] = policy.Members(role)
	}
	return members, nil
}

func (a *storageAdapter) Close() error { return a.client.Close() }

func infoFromAttrs(attrs *storage.BucketAttrs) bucketInfo {
	info := bucketInfo{
		Name:                  attrs.Name,
		Location:              strings.ToLower(attrs.Location),
		UniformAccess:         attrs.UniformBucketLevelAccess.Enabled,
		PublicAccessPrevented: attrs.PublicAccessPrevention == storage.PublicAccessPreventionEnforced,
	}
	if !attrs.Created.IsZero() {
		info.Created = attrs.Created.UTC().Format("2006-01-02T15:04:05Z")
	}
	if len(attrs.ACL) > 0 {
		info.ACL = make(map[string][]string)
		for _, rule := range attrs.ACL {
			role := string(rule.Role)
			info.ACL[role] = append(info.ACL[role], string(rule.Entity))
		}
	}
	return info
}
