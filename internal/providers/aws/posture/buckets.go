package awsposture

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
)

// listBuckets pages through ListBuckets, which is global. Buckets outside
// the scanned regions are still returned: bucket exposure is not regional.
func (e *Enumerator) listBuckets(ctx context.Context) ([]models.ResourceRef, error) {
	client := e.clientsFor("").S3
	paginator := s3svc.NewListBucketsPaginator(client, &s3svc.ListBucketsInput{
		MaxBuckets: aws.Int32(1000),
	})

	var refs []models.ResourceRef
	for paginator.HasMorePages() {
		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("s3 list buckets", err)
		}
		for _, b := range page.Buckets {
			name := aws.ToString(b.Name)
			if name == "" {
				continue
			}
			refs = append(refs, e.ref(models.KindBucket, name, aws.ToString(b.BucketRegion)))
		}
	}
	return refs, nil
}

// bucketRegion resolves a bucket's region when ListBuckets did not
// include it. GetBucketLocation reports us-east-1 as an empty constraint.
func (e *Enumerator) bucketRegion(ctx context.Context, name string) (string, error) {
	if err := e.wait(ctx); err != nil {
		return "", err
	}
	out, err := e.clientsFor("").S3.GetBucketLocation(ctx, &s3svc.GetBucketLocationInput{Bucket: aws.String(name)})
	if err != nil {
		return "", classify("s3 get bucket location", err)
	}
	switch c := string(out.LocationConstraint); c {
	case "":
		return "us-east-1", nil
	case "EU":
		return "eu-west-1", nil
	default:
		return c, nil
	}
}

// fetchBucket reads the ACL and bucket policy from the bucket's region.
// Access denied on either leaves that half unknown; rules then skip.
func (e *Enumerator) fetchBucket(ctx context.Context, ref models.ResourceRef) (models.Payload, error) {
	region := ref.Region
	if region == "" {
		r, err := e.bucketRegion(ctx, ref.ID)
		if err != nil {
			return models.Payload{}, err
		}
		region = r
		ref.Region = r
	}
	client := e.clientsFor(region).S3
	body := &models.BucketPayload{}

	if err := e.wait(ctx); err != nil {
		return models.Payload{}, err
	}
	acl, err := client.GetBucketAcl(ctx, &s3svc.GetBucketAclInput{Bucket: aws.String(ref.ID)})
	switch {
	case err == nil:
		body.ACLKnown = true
		body.Grants = rawGrants(acl.Grants)
		if acl.Owner != nil {
			body.Owner = aws.ToString(acl.Owner.ID)
		}
	case isAccessDenied(err):
		body.ACLKnown = false
	default:
		return models.Payload{}, classify("s3 get bucket acl", err)
	}

	if err := e.wait(ctx); err != nil {
		return models.Payload{}, err
	}
	pol, err := client.GetBucketPolicy(ctx, &s3svc.GetBucketPolicyInput{Bucket: aws.String(ref.ID)})
	switch {
	case err == nil:
		body.PolicyKnown = true
		body.PolicyText = aws.ToString(pol.Policy)
	case isNoSuchBucketPolicy(err):
		body.PolicyKnown = true
	case isAccessDenied(err):
		body.PolicyKnown = false
	default:
		return models.Payload{}, classify("s3 get bucket policy", err)
	}

	return models.Payload{Ref: ref, Bucket: body}, nil
}

func isNoSuchBucketPolicy(err error) bool {
	return errorCode(err) == "NoSuchBucketPolicy"
}

func rawGrants(grants []s3types.Grant) []models.RawGrant {
	out := make([]models.RawGrant, 0, len(grants))
	for _, g := range grants {
		rg := models.RawGrant{Permission: string(g.Permission)}
		if g.Grantee != nil {
			rg.Type = string(g.Grantee.Type)
			rg.URI = aws.ToString(g.Grantee.URI)
			rg.ID = aws.ToString(g.Grantee.ID)
			rg.EmailAddress = aws.ToString(g.Grantee.EmailAddress)
			rg.DisplayName = aws.ToString(g.Grantee.DisplayName)
		}
		out = append(out, rg)
	}
	return out
}
