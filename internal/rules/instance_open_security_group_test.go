package rules

import (
	"errors"
	"testing"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

func instanceWith(groups ...models.SecurityGroup) *models.Instance {
	ref := models.ResourceRef{Provider: "aws", AccountID: "123", Kind: models.KindInstance, ID: "i-0abc", Region: "us-west-2"}
	return models.NewInstance(ref, models.Instance{InstanceID: "i-0abc", GroupsKnown: true, SecurityGroups: groups})
}

func tcp(from, to int, cidrs ...string) models.IngressRule {
	return models.IngressRule{Protocol: "tcp", FromPort: from, ToPort: to, CIDRs: cidrs}
}

func TestInstanceOpenSGRule_SSHFromAnywhere(t *testing.T) {
	in := instanceWith(models.SecurityGroup{ID: "sg-ssh", Ingress: []models.IngressRule{tcp(22, 22, "0.0.0.0/0")}})
	findings, err := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("want 1 finding, got %d", len(findings))
	}
	if findings[0].Resource.Region != "us-west-2" {
		t.Errorf("region: got %q; want us-west-2", findings[0].Resource.Region)
	}
}

func TestInstanceOpenSGRule_RDPFromIPv6Anywhere(t *testing.T) {
	in := instanceWith(models.SecurityGroup{ID: "sg-rdp", Ingress: []models.IngressRule{tcp(3389, 3389, "::/0")}})
	findings, _ := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in})
	if len(findings) != 1 {
		t.Errorf("want 1 finding for ::/0 RDP, got %d", len(findings))
	}
}

func TestInstanceOpenSGRule_NonSensitivePortsNoFindings(t *testing.T) {
	in := instanceWith(models.SecurityGroup{ID: "sg-web", Ingress: []models.IngressRule{
		tcp(443, 443, "0.0.0.0/0"),
		tcp(80, 80, "0.0.0.0/0", "::/0"),
	}})
	findings, _ := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in})
	if len(findings) != 0 {
		t.Errorf("want 0 findings for 80/443, got %d", len(findings))
	}
}

func TestInstanceOpenSGRule_RestrictedCIDRNoFindings(t *testing.T) {
	in := instanceWith(models.SecurityGroup{ID: "sg-1", Ingress: []models.IngressRule{tcp(22, 22, "10.0.0.0/8")}})
	findings, _ := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in})
	if len(findings) != 0 {
		t.Errorf("want 0 findings for private CIDR, got %d", len(findings))
	}
}

func TestInstanceOpenSGRule_RangeCoversSensitivePort(t *testing.T) {
	in := instanceWith(models.SecurityGroup{ID: "sg-range", Ingress: []models.IngressRule{tcp(20, 30, "0.0.0.0/0")}})
	findings, _ := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in})
	if len(findings) != 1 {
		t.Errorf("range 20-30 covers 22, got %d findings", len(findings))
	}
}

func TestInstanceOpenSGRule_AllTrafficOneFinding(t *testing.T) {
	in := instanceWith(
		models.SecurityGroup{ID: "sg-a", Ingress: []models.IngressRule{{Protocol: "all", AllPorts: true, FromPort: 0, ToPort: 65535, CIDRs: []string{"0.0.0.0/0"}}}},
		models.SecurityGroup{ID: "sg-b", Ingress: []models.IngressRule{tcp(22, 22, "0.0.0.0/0")}},
	)
	findings, _ := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in})
	if len(findings) != 1 {
		t.Fatalf("want exactly 1 finding per instance, got %d", len(findings))
	}
	groups, _ := findings[0].Metadata["security_groups"].([]string)
	if len(groups) != 2 {
		t.Errorf("security_groups: got %v; want both groups", groups)
	}
}

func TestInstanceOpenSGRule_ConfiguredAllPorts(t *testing.T) {
	ports, err := ParsePortSet([]string{"all"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	in := instanceWith(models.SecurityGroup{ID: "sg-web", Ingress: []models.IngressRule{tcp(443, 443, "0.0.0.0/0")}})
	findings, _ := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in, SensitivePorts: ports})
	if len(findings) != 1 {
		t.Errorf("with sensitive ports = all, 443 must fire; got %d", len(findings))
	}
}

func TestInstanceOpenSGRule_ICMPIgnored(t *testing.T) {
	in := instanceWith(models.SecurityGroup{ID: "sg-ping", Ingress: []models.IngressRule{{Protocol: "icmp", FromPort: -1, ToPort: -1, CIDRs: []string{"0.0.0.0/0"}}}})
	findings, _ := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in})
	if len(findings) != 0 {
		t.Errorf("icmp must not count as a port exposure, got %d", len(findings))
	}
}

func TestInstanceOpenSGRule_GroupsUnknownSkips(t *testing.T) {
	in := instanceWith()
	in.GroupsKnown = false
	_, err := InstanceOpenSecurityGroupRule{}.Evaluate(RuleContext{Resource: in})
	var rs *scanerr.RuleSkippedError
	if !errors.As(err, &rs) {
		t.Fatalf("want RuleSkippedError, got %v", err)
	}
}
