package awsposture

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3APIClient is the narrow S3 interface used by the enumerator. It embeds
// ListBucketsAPIClient so the SDK paginator can be used directly.
type s3APIClient interface {
	s3svc.ListBucketsAPIClient
	GetBucketLocation(ctx context.Context, params *s3svc.GetBucketLocationInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketLocationOutput, error)
	GetBucketAcl(ctx context.Context, params *s3svc.GetBucketAclInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketAclOutput, error)
	GetBucketPolicy(ctx context.Context, params *s3svc.GetBucketPolicyInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketPolicyOutput, error)
}

// iamAPIClient is the narrow IAM interface for roles and their inline and
// attached managed policies.
type iamAPIClient interface {
	iamsvc.ListRolesAPIClient
	iamsvc.ListRolePoliciesAPIClient
	iamsvc.ListAttachedRolePoliciesAPIClient
	GetRole(ctx context.Context, params *iamsvc.GetRoleInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetRoleOutput, error)
	GetRolePolicy(ctx context.Context, params *iamsvc.GetRolePolicyInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetRolePolicyOutput, error)
	GetPolicy(ctx context.Context, params *iamsvc.GetPolicyInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetPolicyOutput, error)
	GetPolicyVersion(ctx context.Context, params *iamsvc.GetPolicyVersionInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetPolicyVersionOutput, error)
}

// ec2APIClient is the narrow EC2 interface for instances and the security
// groups attached to them.
type ec2APIClient interface {
	ec2svc.DescribeInstancesAPIClient
	DescribeSecurityGroups(ctx context.Context, params *ec2svc.DescribeSecurityGroupsInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeSecurityGroupsOutput, error)
}

// postureClients bundles the service clients for one region.
type postureClients struct {
	S3  s3APIClient
	IAM iamAPIClient
	EC2 ec2APIClient
}

// clientFactory creates postureClients from an AWS config.
// Injection point: tests replace this with a function returning fake clients.
type clientFactory func(cfg aws.Config) *postureClients

// newDefaultClients creates production AWS SDK clients from the given config.
func newDefaultClients(cfg aws.Config) *postureClients {
	return &postureClients{
		S3:  s3svc.NewFromConfig(cfg),
		IAM: iamsvc.NewFromConfig(cfg),
		EC2: ec2svc.NewFromConfig(cfg),
	}
}
