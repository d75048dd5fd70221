package normalize

import (
	"errors"
	"net/url"
	"testing"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

func ref(kind models.ResourceKind, id string) models.ResourceRef {
	return models.ResourceRef{Provider: "aws", AccountID: "111122223333", Kind: kind, ID: id, Region: "us-east-1"}
}

func int32p(v int32) *int32 { return &v }

// ── validation ────────────────────────────────────────────────────────────────

func TestNormalize_MissingID(t *testing.T) {
	_, err := Normalize(models.Payload{Ref: ref(models.KindBucket, ""), Bucket: &models.BucketPayload{}})
	var me *scanerr.MalformedResourceError
	if !errors.As(err, &me) {
		t.Fatalf("want MalformedResourceError, got %v", err)
	}
	if me.Field != "id" {
		t.Errorf("field: got %q; want id", me.Field)
	}
}

func TestNormalize_KindBodyMismatch(t *testing.T) {
	_, err := Normalize(models.Payload{Ref: ref(models.KindRole, "r"), Bucket: &models.BucketPayload{}})
	var me *scanerr.MalformedResourceError
	if !errors.As(err, &me) {
		t.Fatalf("want MalformedResourceError, got %v", err)
	}
}

func TestNormalize_UnknownKind(t *testing.T) {
	_, err := Normalize(models.Payload{Ref: ref("database", "db")})
	if err == nil {
		t.Fatal("want error for unknown kind")
	}
}

func TestNormalize_InstanceRequiresRegion(t *testing.T) {
	r := ref(models.KindInstance, "i-1")
	r.Region = ""
	_, err := Normalize(models.Payload{Ref: r, Instance: &models.InstancePayload{}})
	if err == nil {
		t.Fatal("want error for instance without region")
	}
}

// ── buckets ───────────────────────────────────────────────────────────────────

func TestNormalize_BucketGrantsMapped(t *testing.T) {
	p := models.Payload{
		Ref: ref(models.KindBucket, "logs"),
		Bucket: &models.BucketPayload{
			ACLKnown: true,
			Grants: []models.RawGrant{
				{Type: "CanonicalUser", ID: "owner", Permission: "FULL_CONTROL"},
				{Type: "Group", URI: "http://acs.amazonaws.com/groups/global/AllUsers", Permission: "READ"},
				{Type: "Group", URI: "http://acs.amazonaws.com/groups/global/AllUsers", Permission: "READ"},
			},
		},
	}
	res, err := Normalize(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := res.(*models.Bucket)
	if !ok {
		t.Fatalf("want *models.Bucket, got %T", res)
	}
	if len(b.Grants) != 2 {
		t.Fatalf("want 2 de-duplicated grants, got %d", len(b.Grants))
	}
	if b.Grants[0].Grantee != models.GranteeAllUsers {
		t.Errorf("grants must be sorted; first grantee %q", b.Grants[0].Grantee)
	}
}

func TestNormalize_BucketGCSMembers(t *testing.T) {
	p := models.Payload{
		Ref: models.ResourceRef{Provider: "gcp", AccountID: "proj", Kind: models.KindBucket, ID: "assets"},
		Bucket: &models.BucketPayload{
			ACLKnown: true,
			Members: map[string][]string{
				"roles/storage.objectViewer": {"allAuthenticatedUsers", "user:a@example.com"},
			},
		},
	}
	res, err := Normalize(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := res.(*models.Bucket)
	if b.Region() != models.RegionGlobal {
		t.Errorf("empty bucket region must default to global, got %q", b.Region())
	}
	var public int
	for _, g := range b.Grants {
		if g.Grantee.IsPublic() {
			public++
		}
	}
	if public != 1 {
		t.Errorf("want 1 public grant from allAuthenticatedUsers, got %d", public)
	}
}

func TestNormalize_BucketBadPolicyIsMalformed(t *testing.T) {
	p := models.Payload{
		Ref:    ref(models.KindBucket, "b"),
		Bucket: &models.BucketPayload{PolicyKnown: true, PolicyText: "{not json"},
	}
	_, err := Normalize(p)
	var me *scanerr.MalformedResourceError
	if !errors.As(err, &me) || me.Field != "policy" {
		t.Fatalf("want malformed policy error, got %v", err)
	}
}

func TestNormalize_IsDeterministic(t *testing.T) {
	p := models.Payload{
		Ref: ref(models.KindBucket, "b"),
		Bucket: &models.BucketPayload{
			ACLKnown: true,
			Members: map[string][]string{
				"roles/a": {"allUsers", "user:x"},
				"roles/b": {"allUsers"},
			},
		},
	}
	first, _ := Normalize(p)
	for i := 0; i < 20; i++ {
		again, _ := Normalize(p)
		fg, ag := first.(*models.Bucket).Grants, again.(*models.Bucket).Grants
		if len(fg) != len(ag) {
			t.Fatalf("grant count changed between runs")
		}
		for j := range fg {
			if fg[j] != ag[j] {
				t.Fatalf("grant %d changed between runs: %+v vs %+v", j, fg[j], ag[j])
			}
		}
	}
}

// ── roles ─────────────────────────────────────────────────────────────────────

func TestNormalize_RoleURLEncodedPolicies(t *testing.T) {
	doc := `{"Version":"2012-10-17","Statement":[{"Effect":"Deny","Action":"s3:*","Resource":"*"},{"Effect":"Allow","Action":["*"],"Resource":"arn:aws:s3:::b/*"}]}`
	p := models.Payload{
		Ref: ref(models.KindRole, "deployer"),
		Role: &models.RolePayload{
			ARN:             "arn:aws:iam::111122223333:role/deployer",
			TrustPolicyText: url.PathEscape(`{"Statement":{"Effect":"Allow","Principal":{"Service":"ec2.amazonaws.com"},"Action":"sts:AssumeRole"}}`),
			PoliciesKnown:   true,
			InlinePolicies:  map[string]string{"default": url.QueryEscape(doc)},
		},
	}
	res, err := Normalize(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := res.(*models.Role)
	if r.Region() != models.RegionGlobal {
		t.Errorf("role region: got %q; want global", r.Region())
	}
	if r.TrustPolicy == nil || len(r.TrustPolicy.Statements) != 1 {
		t.Fatalf("trust policy not parsed: %+v", r.TrustPolicy)
	}
	if len(r.Policies) != 1 || len(r.Policies[0].Document.Statements) != 2 {
		t.Fatalf("inline policy not parsed: %+v", r.Policies)
	}
}

// ── instances ─────────────────────────────────────────────────────────────────

func TestNormalize_InstanceIngress(t *testing.T) {
	p := models.Payload{
		Ref: ref(models.KindInstance, "i-123"),
		Instance: &models.InstancePayload{
			GroupsKnown: true,
			SecurityGroups: []models.RawSecurityGroup{
				{ID: "sg-b", Permissions: []models.RawPermission{{Protocol: "-1", IPv4: []string{"0.0.0.0/0"}}}},
				{ID: "sg-a", Permissions: []models.RawPermission{{Protocol: "tcp", FromPort: int32p(22), ToPort: int32p(22), IPv6: []string{"::/0"}}}},
			},
		},
	}
	res, err := Normalize(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := res.(*models.Instance)
	if in.SecurityGroups[0].ID != "sg-a" {
		t.Errorf("groups must be sorted by ID, first %q", in.SecurityGroups[0].ID)
	}
	all := in.SecurityGroups[1].Ingress[0]
	if !all.AllPorts || all.Protocol != "all" {
		t.Errorf("protocol -1 must mean all ports: %+v", all)
	}
	ssh := in.SecurityGroups[0].Ingress[0]
	if ssh.FromPort != 22 || ssh.ToPort != 22 || ssh.AllPorts {
		t.Errorf("unexpected ssh rule: %+v", ssh)
	}
}

func TestNormalize_InstanceInvalidPortRange(t *testing.T) {
	p := models.Payload{
		Ref: ref(models.KindInstance, "i-1"),
		Instance: &models.InstancePayload{
			SecurityGroups: []models.RawSecurityGroup{
				{ID: "sg-1", Permissions: []models.RawPermission{{Protocol: "tcp", FromPort: int32p(100), ToPort: int32p(10)}}},
			},
		},
	}
	if _, err := Normalize(p); err == nil {
		t.Fatal("want error for inverted port range")
	}
}
