package models

// Payload is the raw, provider-shaped description of one resource as
// returned by an enumerator's Fetch. Exactly one of Bucket, Role or
// Instance is expected to be set, matching Ref.Kind.
type Payload struct {
	Ref      ResourceRef
	Bucket   *BucketPayload
	Role     *RolePayload
	Instance *InstancePayload
}

// RawGrant is a bucket ACL grant as reported by the provider.
// For S3, Type is "Group", "CanonicalUser" or "AmazonCustomerByEmail";
// URI is set for groups.
type RawGrant struct {
	Type         string
	URI          string
	ID           string
	EmailAddress string
	DisplayName  string
	Permission   string
}

// BucketPayload holds the raw bucket ACL and policy.
type BucketPayload struct {
	ACLKnown bool
	Grants   []RawGrant

	// Members maps IAM role name to member list for providers that express
	// bucket access as IAM bindings (GCS).
	Members map[string][]string

	PolicyKnown bool
	// PolicyText is the bucket policy JSON; empty means no policy.
	PolicyText string

	Owner        string
	CreationDate string
}

// RolePayload holds a role's trust policy and inline policy documents.
// Documents may be URL-encoded, as IAM returns them.
type RolePayload struct {
	Name            string
	ARN             string
	Path            string
	TrustPolicyText string

	PoliciesKnown bool
	// InlinePolicies maps policy name to policy document text.
	InlinePolicies map[string]string
}

// RawPermission is one ingress permission of a security group. A nil port
// applies to all ports.
type RawPermission struct {
	Protocol string
	FromPort *int32
	ToPort   *int32
	IPv4     []string
	IPv6     []string
}

// RawSecurityGroup is a security group with its ingress permissions.
type RawSecurityGroup struct {
	ID          string
	Name        string
	Permissions []RawPermission
}

// InstancePayload holds an instance and its attached security groups.
type InstancePayload struct {
	State          string
	GroupsKnown    bool
	SecurityGroups []RawSecurityGroup
	Tags           map[string]string
}
