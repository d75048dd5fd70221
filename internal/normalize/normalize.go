// Package normalize turns provider payloads into immutable models.Resource
// values. Normalization is deterministic: slices are sorted, duplicates
// removed, and fields no rule consumes are dropped.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// S3 predefined group URIs.
const (
	s3AllUsersURI           = "http://acs.amazonaws.com/groups/global/AllUsers"
	s3AuthenticatedUsersURI = "http://acs.amazonaws.com/groups/global/AuthenticatedUsers"
)

// Normalize validates p and returns the matching Resource variant.
// It returns *scanerr.MalformedResourceError when required fields are
// missing or embedded documents cannot be parsed.
func Normalize(p models.Payload) (models.Resource, error) {
	ref := p.Ref
	key := ref.Key()

	if strings.TrimSpace(ref.ID) == "" {
		return nil, malformed(key, "id", "missing")
	}
	if ref.Provider == "" {
		return nil, malformed(key, "provider", "missing")
	}
	if ref.AccountID == "" {
		return nil, malformed(key, "account_id", "missing")
	}
	kind, ok := models.ParseKind(string(ref.Kind))
	if !ok {
		return nil, malformed(key, "kind", fmt.Sprintf("unknown kind %q", ref.Kind))
	}
	ref.Kind = kind

	switch kind {
	case models.KindBucket:
		if p.Bucket == nil {
			return nil, malformed(key, "bucket", "missing bucket body")
		}
		if ref.Region == "" {
			ref.Region = models.RegionGlobal
		}
		return normalizeBucket(ref, p.Bucket)
	case models.KindRole:
		if p.Role == nil {
			return nil, malformed(key, "role", "missing role body")
		}
		// IAM is global; a region on the ref is the client's, not the role's.
		ref.Region = models.RegionGlobal
		return normalizeRole(ref, p.Role)
	default:
		if p.Instance == nil {
			return nil, malformed(key, "instance", "missing instance body")
		}
		if ref.Region == "" {
			return nil, malformed(key, "region", "missing")
		}
		return normalizeInstance(ref, p.Instance)
	}
}

func normalizeBucket(ref models.ResourceRef, b *models.BucketPayload) (*models.Bucket, error) {
	out := models.Bucket{
		Name:        ref.ID,
		ACLKnown:    b.ACLKnown,
		PolicyKnown: b.PolicyKnown,
	}

	var grants []models.Grant
	for _, g := range b.Grants {
		grants = append(grants, grantFromRaw(g))
	}
	for role, members := range b.Members {
		for _, m := range members {
			grants = append(grants, grantFromMember(m, role))
		}
	}
	out.Grants = uniqueGrants(grants)

	if b.PolicyKnown && strings.TrimSpace(b.PolicyText) != "" {
		doc, err := ParsePolicy(b.PolicyText)
		if err != nil {
			return nil, malformed(ref.Key(), "policy", err.Error())
		}
		out.Policy = doc
	}
	return models.NewBucket(ref, out), nil
}

func grantFromRaw(g models.RawGrant) models.Grant {
	switch {
	case g.URI == s3AllUsersURI || strings.HasSuffix(g.URI, "/AllUsers"):
		return models.Grant{Grantee: models.GranteeAllUsers, Identifier: g.URI, Permission: g.Permission}
	case g.URI == s3AuthenticatedUsersURI || strings.HasSuffix(g.URI, "/AuthenticatedUsers"):
		return models.Grant{Grantee: models.GranteeAuthenticatedUsers, Identifier: g.URI, Permission: g.Permission}
	}
	switch g.Type {
	case "CanonicalUser":
		return models.Grant{Grantee: models.GranteeCanonicalUser, Identifier: g.ID, Permission: g.Permission}
	case "AmazonCustomerByEmail":
		return models.Grant{Grantee: models.GranteeEmail, Identifier: g.EmailAddress, Permission: g.Permission}
	}
	id := g.URI
	if id == "" {
		id = g.ID
	}
	return models.Grant{Grantee: models.GranteeGroup, Identifier: id, Permission: g.Permission}
}

// grantFromMember maps a GCS IAM binding member onto a grant.
func grantFromMember(member, role string) models.Grant {
	switch member {
	case "allUsers":
		return models.Grant{Grantee: models.GranteeAllUsers, Identifier: member, Permission: role}
	case "allAuthenticatedUsers":
		return models.Grant{Grantee: models.GranteeAuthenticatedUsers, Identifier: member, Permission: role}
	}
	if strings.HasPrefix(member, "group:") || strings.HasPrefix(member, "domain:") {
		return models.Grant{Grantee: models.GranteeGroup, Identifier: member, Permission: role}
	}
	return models.Grant{Grantee: models.GranteeCanonicalUser, Identifier: member, Permission: role}
}

func uniqueGrants(in []models.Grant) []models.Grant {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].Grantee != in[j].Grantee {
			return in[i].Grantee < in[j].Grantee
		}
		if in[i].Identifier != in[j].Identifier {
			return in[i].Identifier < in[j].Identifier
		}
		return in[i].Permission < in[j].Permission
	})
	out := in[:1]
	for _, g := range in[1:] {
		if g != out[len(out)-1] {
			out = append(out, g)
		}
	}
	return out
}

func normalizeRole(ref models.ResourceRef, r *models.RolePayload) (*models.Role, error) {
	out := models.Role{
		Name:          r.Name,
		ARN:           r.ARN,
		PoliciesKnown: r.PoliciesKnown,
	}
	if out.Name == "" {
		out.Name = ref.ID
	}

	if strings.TrimSpace(r.TrustPolicyText) != "" {
		doc, err := ParsePolicy(r.TrustPolicyText)
		if err != nil {
			return nil, malformed(ref.Key(), "trust_policy", err.Error())
		}
		out.TrustPolicy = doc
	}

	names := make([]string, 0, len(r.InlinePolicies))
	for name := range r.InlinePolicies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		doc, err := ParsePolicy(r.InlinePolicies[name])
		if err != nil {
			return nil, malformed(ref.Key(), "policies."+name, err.Error())
		}
		if doc == nil {
			doc = &models.PolicyDocument{}
		}
		out.Policies = append(out.Policies, models.NamedPolicy{Name: name, Document: *doc})
	}
	return models.NewRole(ref, out), nil
}

func normalizeInstance(ref models.ResourceRef, in *models.InstancePayload) (*models.Instance, error) {
	out := models.Instance{
		InstanceID:  ref.ID,
		State:       in.State,
		GroupsKnown: in.GroupsKnown,
	}

	groups := make([]models.SecurityGroup, 0, len(in.SecurityGroups))
	for _, g := range in.SecurityGroups {
		if g.ID == "" {
			return nil, malformed(ref.Key(), "security_groups", "group without ID")
		}
		sg := models.SecurityGroup{ID: g.ID, Name: g.Name}
		for _, p := range g.Permissions {
			rule, err := ingressFromRaw(p)
			if err != nil {
				return nil, malformed(ref.Key(), "security_groups."+g.ID, err.Error())
			}
			sg.Ingress = append(sg.Ingress, rule)
		}
		groups = append(groups, sg)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	out.SecurityGroups = groups
	return models.NewInstance(ref, out), nil
}

func ingressFromRaw(p models.RawPermission) (models.IngressRule, error) {
	rule := models.IngressRule{
		Protocol: normalizeProtocol(p.Protocol),
		CIDRs:    sortedUnique(append(append([]string{}, p.IPv4...), p.IPv6...)),
	}

	switch rule.Protocol {
	case "all":
		rule.AllPorts = true
		rule.FromPort, rule.ToPort = 0, 65535
		return rule, nil
	case "icmp", "icmpv6":
		// Port fields carry ICMP type/code; no port is exposed.
		rule.FromPort, rule.ToPort = -1, -1
		return rule, nil
	}

	if p.FromPort == nil || p.ToPort == nil {
		rule.AllPorts = true
		rule.FromPort, rule.ToPort = 0, 65535
		return rule, nil
	}
	from, to := int(*p.FromPort), int(*p.ToPort)
	if from < 0 || to > 65535 || from > to {
		return rule, fmt.Errorf("invalid port range %d-%d", from, to)
	}
	rule.FromPort, rule.ToPort = from, to
	rule.AllPorts = from == 0 && to == 65535
	return rule, nil
}

func normalizeProtocol(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "-1", "all", "":
		return "all"
	case "6", "tcp":
		return "tcp"
	case "17", "udp":
		return "udp"
	case "1", "icmp":
		return "icmp"
	case "58", "icmpv6":
		return "icmpv6"
	default:
		return strings.ToLower(p)
	}
}

func malformed(key, field, reason string) error {
	return &scanerr.MalformedResourceError{Key: key, Field: field, Reason: reason}
}
