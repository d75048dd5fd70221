package rules

import (
	"fmt"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// BucketPublicAccessRule flags buckets readable or writable by anyone,
// either through an ACL grant to the all-users / authenticated-users groups
// or through an unconditional Allow statement for Principal "*".
type BucketPublicAccessRule struct{}

func (r BucketPublicAccessRule) ID() string   { return "bucket-public-access" }
func (r BucketPublicAccessRule) Name() string { return "Bucket Publicly Accessible" }

func (r BucketPublicAccessRule) Kinds() []models.ResourceKind {
	return []models.ResourceKind{models.KindBucket}
}

// Evaluate returns one HIGH finding per bucket with at least one public
// grant or public policy statement. When only one of ACL and policy could be
// read, the result is a partial skip so earlier findings from the unread
// side are not taken as remediated.
func (r BucketPublicAccessRule) Evaluate(ctx RuleContext) ([]models.Finding, error) {
	b, ok := ctx.Resource.(*models.Bucket)
	if !ok {
		return nil, scanerr.Skip(r.ID(), fmt.Sprintf("resource is %T, not a bucket", ctx.Resource))
	}
	if !b.ACLKnown && !b.PolicyKnown {
		return nil, scanerr.Skip(r.ID(), "neither ACL nor bucket policy could be read")
	}

	var grants []string
	for _, g := range b.Grants {
		if g.Grantee.IsPublic() {
			grants = append(grants, fmt.Sprintf("%s:%s", g.Grantee, g.Permission))
		}
	}

	var statements []string
	if b.Policy != nil {
		for i, s := range b.Policy.Statements {
			if s.Allows() && s.HasWildcardPrincipal() && !s.HasCondition {
				statements = append(statements, statementLabel(s, i))
			}
		}
	}

	var partial error
	switch {
	case !b.ACLKnown:
		partial = scanerr.SkipPartial(r.ID(), "bucket ACL could not be read")
	case !b.PolicyKnown:
		partial = scanerr.SkipPartial(r.ID(), "bucket policy could not be read")
	}

	if len(grants) == 0 && len(statements) == 0 {
		return nil, partial
	}

	var reasons []string
	if len(grants) > 0 {
		reasons = append(reasons, "ACL grants "+strings.Join(grants, ", "))
	}
	if len(statements) > 0 {
		reasons = append(reasons, "policy statements "+strings.Join(statements, ", ")+` allow Principal "*" without a condition`)
	}

	f := newFinding(ctx, r.ID(), models.SeverityHigh,
		fmt.Sprintf("Bucket %s is publicly accessible: %s.", b.Name, strings.Join(reasons, "; ")),
		"Remove public ACL grants, restrict the policy principal or add a condition, and enable Block Public Access.",
	)
	f.Metadata = map[string]any{
		"public_grants":     grants,
		"public_statements": statements,
	}
	return []models.Finding{f}, partial
}

// statementLabel names a statement by its Sid, or by position when unnamed.
func statementLabel(s models.Statement, i int) string {
	if s.Sid != "" {
		return s.Sid
	}
	return fmt.Sprintf("#%d", i)
}
