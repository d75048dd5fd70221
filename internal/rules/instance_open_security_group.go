package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// openCIDRs are the "anywhere" source ranges.
var openCIDRs = map[string]struct{}{
	"0.0.0.0/0": {},
	"::/0":      {},
}

// InstanceOpenSecurityGroupRule flags instances with an attached security
// group allowing ingress from anywhere on a sensitive port.
type InstanceOpenSecurityGroupRule struct{}

func (r InstanceOpenSecurityGroupRule) ID() string   { return "instance-open-security-group" }
func (r InstanceOpenSecurityGroupRule) Name() string { return "Instance Exposes Sensitive Port" }

func (r InstanceOpenSecurityGroupRule) Kinds() []models.ResourceKind {
	return []models.ResourceKind{models.KindInstance}
}

// Evaluate returns one HIGH finding per instance listing every exposed
// group/port pair.
func (r InstanceOpenSecurityGroupRule) Evaluate(ctx RuleContext) ([]models.Finding, error) {
	in, ok := ctx.Resource.(*models.Instance)
	if !ok {
		return nil, scanerr.Skip(r.ID(), fmt.Sprintf("resource is %T, not an instance", ctx.Resource))
	}
	if !in.GroupsKnown {
		return nil, scanerr.Skip(r.ID(), "attached security groups could not be read")
	}

	ports := ctx.sensitivePorts()
	exposed := make(map[string]struct{})
	groups := make(map[string]struct{})
	for _, sg := range in.SecurityGroups {
		for _, rule := range sg.Ingress {
			cidr, open := openSource(rule.CIDRs)
			if !open {
				continue
			}
			for _, pr := range ports.Overlaps(rule.FromPort, rule.ToPort) {
				exposed[fmt.Sprintf("%s %s/%s from %s", sg.ID, rule.Protocol, pr, cidr)] = struct{}{}
				groups[sg.ID] = struct{}{}
			}
		}
	}
	if len(exposed) == 0 {
		return nil, nil
	}

	list := sortedKeys(exposed)
	f := newFinding(ctx, r.ID(), models.SeverityHigh,
		fmt.Sprintf("Instance %s is reachable from the internet on sensitive ports: %s.", in.InstanceID, strings.Join(list, "; ")),
		"Restrict the ingress source to known CIDR ranges or use a bastion / session manager instead of open ports.",
	)
	f.Metadata = map[string]any{
		"exposures":       list,
		"security_groups": sortedKeys(groups),
		"sensitive_ports": ports.String(),
	}
	return []models.Finding{f}, nil
}

// openSource returns the first anywhere-CIDR in cidrs.
func openSource(cidrs []string) (string, bool) {
	for _, c := range cidrs {
		if _, ok := openCIDRs[c]; ok {
			return c, true
		}
	}
	return "", false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
