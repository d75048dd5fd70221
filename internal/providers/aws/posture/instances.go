package awsposture

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/sync/errgroup"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// listInstances describes instances in every scanned region concurrently.
// Terminated instances are dropped. One failing region fails the whole
// kind, so no instance in that region is wrongly treated as gone.
func (e *Enumerator) listInstances(ctx context.Context) ([]models.ResourceRef, error) {
	regions := e.regions
	if len(regions) == 0 {
		regions = []string{e.profile.Region}
	}

	perRegion := make([][]models.ResourceRef, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, region := range regions {
		g.Go(func() error {
			refs, err := e.listInstancesInRegion(gctx, region)
			if err != nil {
				return fmt.Errorf("region %s: %w", region, err)
			}
			perRegion[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var refs []models.ResourceRef
	for _, r := range perRegion {
		refs = append(refs, r...)
	}
	return refs, nil
}

func (e *Enumerator) listInstancesInRegion(ctx context.Context, region string) ([]models.ResourceRef, error) {
	client := e.clientsFor(region).EC2
	paginator := ec2svc.NewDescribeInstancesPaginator(client, &ec2svc.DescribeInstancesInput{})

	var refs []models.ResourceRef
	for paginator.HasMorePages() {
		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("ec2 describe instances", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				id := aws.ToString(inst.InstanceId)
				if id == "" || instanceState(inst) == string(ec2types.InstanceStateNameTerminated) {
					continue
				}
				e.instances.Store(region+"/"+id, summarizeInstance(inst))
				refs = append(refs, e.ref(models.KindInstance, id, region))
			}
		}
	}
	return refs, nil
}

func instanceState(inst ec2types.Instance) string {
	if inst.State == nil {
		return ""
	}
	return string(inst.State.Name)
}

func summarizeInstance(inst ec2types.Instance) instanceSummary {
	s := instanceSummary{state: instanceState(inst), tags: make(map[string]string)}
	for _, g := range inst.SecurityGroups {
		if id := aws.ToString(g.GroupId); id != "" {
			s.groupIDs = append(s.groupIDs, id)
		}
	}
	for _, t := range inst.Tags {
		s.tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return s
}

// fetchInstance resolves the instance's security groups and their ingress
// permissions.
func (e *Enumerator) fetchInstance(ctx context.Context, ref models.ResourceRef) (models.Payload, error) {
	client := e.clientsFor(ref.Region).EC2

	summary, err := e.instanceSummary(ctx, client, ref)
	if err != nil {
		return models.Payload{}, err
	}
	body := &models.InstancePayload{
		State:       summary.state,
		GroupsKnown: true,
		Tags:        summary.tags,
	}
	if len(summary.groupIDs) == 0 {
		return models.Payload{Ref: ref, Instance: body}, nil
	}

	if err := e.wait(ctx); err != nil {
		return models.Payload{}, err
	}
	out, err := client.DescribeSecurityGroups(ctx, &ec2svc.DescribeSecurityGroupsInput{
		GroupIds: summary.groupIDs,
	})
	switch {
	case err == nil:
		body.SecurityGroups = rawSecurityGroups(out.SecurityGroups)
	case isAccessDenied(err):
		body.GroupsKnown = false
	default:
		return models.Payload{}, classify("ec2 describe security groups", err)
	}
	return models.Payload{Ref: ref, Instance: body}, nil
}

func (e *Enumerator) instanceSummary(ctx context.Context, client ec2APIClient, ref models.ResourceRef) (instanceSummary, error) {
	if v, ok := e.instances.Load(ref.Region + "/" + ref.ID); ok {
		return v.(instanceSummary), nil
	}
	if err := e.wait(ctx); err != nil {
		return instanceSummary{}, err
	}
	out, err := client.DescribeInstances(ctx, &ec2svc.DescribeInstancesInput{InstanceIds: []string{ref.ID}})
	if err != nil {
		return instanceSummary{}, classify("ec2 describe instances", err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) == ref.ID {
				return summarizeInstance(inst), nil
			}
		}
	}
	return instanceSummary{}, &scanerr.ProviderError{
		Op:    "ec2 describe instances",
		Code:  "InvalidInstanceID.NotFound",
		Class: scanerr.ClassPermanent,
		Err:   fmt.Errorf("instance %s not found", ref.ID),
	}
}

func rawSecurityGroups(groups []ec2types.SecurityGroup) []models.RawSecurityGroup {
	out := make([]models.RawSecurityGroup, 0, len(groups))
	for _, g := range groups {
		rg := models.RawSecurityGroup{
			ID:   aws.ToString(g.GroupId),
			Name: aws.ToString(g.GroupName),
		}
		for _, p := range g.IpPermissions {
			rp := models.RawPermission{
				Protocol: strings.ToLower(aws.ToString(p.IpProtocol)),
				FromPort: p.FromPort,
				ToPort:   p.ToPort,
			}
			for _, r := range p.IpRanges {
				rp.IPv4 = append(rp.IPv4, aws.ToString(r.CidrIp))
			}
			for _, r := range p.Ipv6Ranges {
				rp.IPv6 = append(rp.IPv6, aws.ToString(r.CidrIpv6))
			}
			// Rules that only reference other groups or prefix lists
			// grant nothing to the internet.
			if len(rp.IPv4) == 0 && len(rp.IPv6) == 0 {
				continue
			}
			rg.Permissions = append(rg.Permissions, rp)
		}
		out = append(out, rg)
	}
	return out
}
