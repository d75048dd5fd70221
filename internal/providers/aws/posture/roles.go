package awsposture

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// listRoles pages through ListRoles. The trust policy comes back with each
// role, so it is cached for Fetch. Listing starts a new scan of the identity
// domain, so managed policy documents from the previous scan are dropped.
func (e *Enumerator) listRoles(ctx context.Context) ([]models.ResourceRef, error) {
	e.managedMu.Lock()
	e.managed.Clear()
	e.managedMu.Unlock()

	client := e.clientsFor("").IAM
	paginator := iamsvc.NewListRolesPaginator(client, &iamsvc.ListRolesInput{})

	var refs []models.ResourceRef
	for paginator.HasMorePages() {
		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("iam list roles", err)
		}
		for _, r := range page.Roles {
			name := aws.ToString(r.RoleName)
			if name == "" {
				continue
			}
			e.roles.Store(name, roleSummary{
				arn:         aws.ToString(r.Arn),
				path:        aws.ToString(r.Path),
				trustPolicy: aws.ToString(r.AssumeRolePolicyDocument),
			})
			refs = append(refs, e.ref(models.KindRole, name, models.RegionGlobal))
		}
	}
	return refs, nil
}

// fetchRole collects the role's inline policies and the default version of
// each attached managed policy. If any policy cannot be read the role's
// permissions are reported unknown as a whole.
func (e *Enumerator) fetchRole(ctx context.Context, ref models.ResourceRef) (models.Payload, error) {
	client := e.clientsFor("").IAM

	summary, ok := e.cachedRole(ref.ID)
	if !ok {
		if err := e.wait(ctx); err != nil {
			return models.Payload{}, err
		}
		out, err := client.GetRole(ctx, &iamsvc.GetRoleInput{RoleName: aws.String(ref.ID)})
		if err != nil {
			return models.Payload{}, classify("iam get role", err)
		}
		summary = roleSummary{
			arn:         aws.ToString(out.Role.Arn),
			path:        aws.ToString(out.Role.Path),
			trustPolicy: aws.ToString(out.Role.AssumeRolePolicyDocument),
		}
	}

	body := &models.RolePayload{
		Name:            ref.ID,
		ARN:             summary.arn,
		Path:            summary.path,
		TrustPolicyText: summary.trustPolicy,
		PoliciesKnown:   true,
		InlinePolicies:  make(map[string]string),
	}

	if err := e.collectInlinePolicies(ctx, client, ref.ID, body.InlinePolicies); err != nil {
		if !isAccessDenied(err) {
			return models.Payload{}, err
		}
		body.PoliciesKnown = false
	}
	if body.PoliciesKnown {
		if err := e.collectManagedPolicies(ctx, client, ref.ID, body.InlinePolicies); err != nil {
			if !isAccessDenied(err) {
				return models.Payload{}, err
			}
			body.PoliciesKnown = false
		}
	}
	if !body.PoliciesKnown {
		body.InlinePolicies = nil
	}

	return models.Payload{Ref: ref, Role: body}, nil
}

func (e *Enumerator) cachedRole(name string) (roleSummary, bool) {
	v, ok := e.roles.Load(name)
	if !ok {
		return roleSummary{}, false
	}
	return v.(roleSummary), true
}

func (e *Enumerator) collectInlinePolicies(ctx context.Context, client iamAPIClient, role string, into map[string]string) error {
	paginator := iamsvc.NewListRolePoliciesPaginator(client, &iamsvc.ListRolePoliciesInput{RoleName: aws.String(role)})
	for paginator.HasMorePages() {
		if err := e.wait(ctx); err != nil {
			return err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify("iam list role policies", err)
		}
		for _, name := range page.PolicyNames {
			if err := e.wait(ctx); err != nil {
				return err
			}
			out, err := client.GetRolePolicy(ctx, &iamsvc.GetRolePolicyInput{
				RoleName:   aws.String(role),
				PolicyName: aws.String(name),
			})
			if err != nil {
				return classify("iam get role policy", err)
			}
			into[name] = aws.ToString(out.PolicyDocument)
		}
	}
	return nil
}

// collectManagedPolicies stores attached managed policy documents keyed by
// policy ARN. Documents are cached because AWS managed policies are shared
// by many roles.
func (e *Enumerator) collectManagedPolicies(ctx context.Context, client iamAPIClient, role string, into map[string]string) error {
	paginator := iamsvc.NewListAttachedRolePoliciesPaginator(client, &iamsvc.ListAttachedRolePoliciesInput{RoleName: aws.String(role)})
	for paginator.HasMorePages() {
		if err := e.wait(ctx); err != nil {
			return err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify("iam list attached role policies", err)
		}
		for _, p := range page.AttachedPolicies {
			arn := aws.ToString(p.PolicyArn)
			doc, err := e.managedPolicyDocument(ctx, client, arn)
			if err != nil {
				return err
			}
			into[arn] = doc
		}
	}
	return nil
}

func (e *Enumerator) managedPolicyDocument(ctx context.Context, client iamAPIClient, arn string) (string, error) {
	if v, ok := e.managed.Load(arn); ok {
		return v.(string), nil
	}
	// Serialize misses so concurrent roles sharing a policy fetch it once.
	e.managedMu.Lock()
	defer e.managedMu.Unlock()
	if v, ok := e.managed.Load(arn); ok {
		return v.(string), nil
	}

	if err := e.wait(ctx); err != nil {
		return "", err
	}
	pol, err := client.GetPolicy(ctx, &iamsvc.GetPolicyInput{PolicyArn: aws.String(arn)})
	if err != nil {
		return "", classify("iam get policy", err)
	}
	if pol.Policy == nil || pol.Policy.DefaultVersionId == nil {
		return "", &scanerr.ProviderError{Op: "iam get policy", Class: scanerr.ClassPermanent, Err: fmt.Errorf("policy %s has no default version", arn)}
	}
	if err := e.wait(ctx); err != nil {
		return "", err
	}
	ver, err := client.GetPolicyVersion(ctx, &iamsvc.GetPolicyVersionInput{
		PolicyArn: aws.String(arn),
		VersionId: pol.Policy.DefaultVersionId,
	})
	if err != nil {
		return "", classify("iam get policy version", err)
	}
	doc := ""
	if ver.PolicyVersion != nil {
		doc = aws.ToString(ver.PolicyVersion.Document)
	}
	e.managed.Store(arn, doc)
	return doc, nil
}
