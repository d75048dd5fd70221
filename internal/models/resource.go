package models

import "strings"

// ResourceKind identifies which Resource variant a value holds.
type ResourceKind string

const (
	KindBucket   ResourceKind = "bucket"
	KindRole     ResourceKind = "role"
	KindInstance ResourceKind = "instance"
)

// AllKinds lists every supported kind in scan order.
var AllKinds = []ResourceKind{KindBucket, KindRole, KindInstance}

// ParseKind returns the ResourceKind named by s (case-insensitive).
func ParseKind(s string) (ResourceKind, bool) {
	k := ResourceKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindBucket, KindRole, KindInstance:
		return k, true
	}
	return "", false
}

// Domain returns the policy domain a kind belongs to.
func (k ResourceKind) Domain() string {
	switch k {
	case KindBucket:
		return "storage"
	case KindRole:
		return "identity"
	case KindInstance:
		return "compute"
	}
	return ""
}

// RegionGlobal is used for resources that are not region-scoped (IAM roles).
const RegionGlobal = "global"

// ResourceRef locates one resource at one provider. It is what an
// enumerator lists and what every finding and diagnostic points back to.
type ResourceRef struct {
	Provider  string       `json:"provider"`
	AccountID string       `json:"account_id"`
	Kind      ResourceKind `json:"kind"`
	ID        string       `json:"id"`
	Region    string       `json:"region"`
}

// Key returns the stable identifier "provider:account:kind:id". Region is
// intentionally not part of the key.
func (r ResourceRef) Key() string {
	return r.Provider + ":" + r.AccountID + ":" + string(r.Kind) + ":" + r.ID
}

func (r ResourceRef) String() string { return r.Key() }

// Resource is the normalized, provider-agnostic view of a scanned entity.
// The set of implementations is closed: *Bucket, *Role and *Instance.
type Resource interface {
	Ref() ResourceRef
	Kind() ResourceKind
	ID() string
	Region() string

	isResource()
}

// resourceBase carries the common identity fields of every variant.
type resourceBase struct {
	ref ResourceRef
}

func (b resourceBase) Ref() ResourceRef   { return b.ref }
func (b resourceBase) Kind() ResourceKind { return b.ref.Kind }
func (b resourceBase) ID() string         { return b.ref.ID }
func (b resourceBase) Region() string     { return b.ref.Region }
func (resourceBase) isResource()          {}

// GranteeKind classifies an ACL grantee independently of provider encoding.
type GranteeKind string

const (
	GranteeAllUsers           GranteeKind = "all-users"
	GranteeAuthenticatedUsers GranteeKind = "authenticated-users"
	GranteeCanonicalUser      GranteeKind = "canonical-user"
	GranteeEmail              GranteeKind = "email"
	GranteeGroup              GranteeKind = "group"
)

// IsPublic reports whether the grantee reaches outside the account.
func (g GranteeKind) IsPublic() bool {
	return g == GranteeAllUsers || g == GranteeAuthenticatedUsers
}

// Grant is one bucket ACL entry.
type Grant struct {
	Grantee    GranteeKind `json:"grantee"`
	Identifier string      `json:"identifier,omitempty"`
	Permission string      `json:"permission"`
}

// Principal is one entry of a policy statement's Principal element.
// Type is "AWS", "Service", "Federated", "CanonicalUser" or "*" for the
// bare wildcard form `"Principal": "*"`.
type Principal struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// IsWildcard reports whether the principal matches everyone.
func (p Principal) IsWildcard() bool {
	return p.Type == "*" || p.Value == "*"
}

// Statement is one normalized policy statement.
type Statement struct {
	Sid          string      `json:"sid,omitempty"`
	Effect       string      `json:"effect"`
	Principals   []Principal `json:"principals,omitempty"`
	Actions      []string    `json:"actions,omitempty"`
	Resources    []string    `json:"resources,omitempty"`
	HasCondition bool        `json:"has_condition"`
}

// Allows reports whether the statement's effect is Allow.
func (s Statement) Allows() bool { return strings.EqualFold(s.Effect, "Allow") }

// HasWildcardPrincipal reports whether any principal is "*".
func (s Statement) HasWildcardPrincipal() bool {
	for _, p := range s.Principals {
		if p.IsWildcard() {
			return true
		}
	}
	return false
}

// PolicyDocument is a parsed resource or identity policy.
type PolicyDocument struct {
	Version    string      `json:"version,omitempty"`
	Statements []Statement `json:"statements"`
}

// NamedPolicy is an inline policy attached to a role.
type NamedPolicy struct {
	Name     string         `json:"name"`
	Document PolicyDocument `json:"document"`
}

// Bucket is a storage bucket. ACLKnown and PolicyKnown distinguish "no
// grants / no policy" from "could not be read".
type Bucket struct {
	resourceBase
	Name        string
	Grants      []Grant
	ACLKnown    bool
	Policy      *PolicyDocument
	PolicyKnown bool
}

// Role is an identity role with its trust policy and inline policies.
type Role struct {
	resourceBase
	Name          string
	ARN           string
	TrustPolicy   *PolicyDocument
	Policies      []NamedPolicy
	PoliciesKnown bool
}

// IngressRule is one inbound permission of a security group. AllPorts is
// set for protocol "-1" or when no port range applies.
type IngressRule struct {
	Protocol string   `json:"protocol"`
	FromPort int      `json:"from_port"`
	ToPort   int      `json:"to_port"`
	AllPorts bool     `json:"all_ports"`
	CIDRs    []string `json:"cidrs"`
}

// SecurityGroup is a named set of ingress rules attached to an instance.
type SecurityGroup struct {
	ID      string        `json:"id"`
	Name    string        `json:"name,omitempty"`
	Ingress []IngressRule `json:"ingress"`
}

// Instance is a compute instance with its attached security groups.
type Instance struct {
	resourceBase
	InstanceID     string
	State          string
	SecurityGroups []SecurityGroup
	GroupsKnown    bool
}

// NewBucket, NewRole and NewInstance bind a variant to its ref. They are
// used by the normalizer; callers should not mutate the result.
func NewBucket(ref ResourceRef, b Bucket) *Bucket {
	b.resourceBase = resourceBase{ref: ref}
	return &b
}

func NewRole(ref ResourceRef, r Role) *Role {
	r.resourceBase = resourceBase{ref: ref}
	return &r
}

func NewInstance(ref ResourceRef, i Instance) *Instance {
	i.resourceBase = resourceBase{ref: ref}
	return &i
}
