package notify

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

// SNSPublishAPI is the subset of the SNS client used by SNSNotifier.
type SNSPublishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// snsSubjectMax is the SNS limit on the Subject parameter.
const snsSubjectMax = 100

// SNSNotifier publishes findings to an SNS topic. Email subscribers of the
// topic receive Subject and Body as a plain-text message.
type SNSNotifier struct {
	client   SNSPublishAPI
	topicARN string
}

// NewSNSNotifier returns a notifier publishing to topicARN.
func NewSNSNotifier(client SNSPublishAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Name() string { return "sns" }

func (n *SNSNotifier) Notify(ctx context.Context, f models.Finding) error {
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(truncate(Subject(f), snsSubjectMax)),
		Message:  aws.String(Body(f)),
	})
	if err != nil {
		return classifySNSError(err)
	}
	return nil
}

// classifySNSError marks throttling and server-side faults as transient so
// Retrying backs off, and everything else as permanent.
func classifySNSError(err error) error {
	class := scanerr.ClassPermanent
	code := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		switch code {
		case "Throttling", "ThrottlingException", "InternalError", "InternalFailure", "ServiceUnavailable", "KMSThrottling":
			class = scanerr.ClassTransient
		default:
			if apiErr.ErrorFault() == smithy.FaultServer {
				class = scanerr.ClassTransient
			}
		}
	} else if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// Network errors carry no API code.
		class = scanerr.ClassTransient
	}
	return &scanerr.ProviderError{Op: "sns publish", Code: code, Class: class, Err: err}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s...", s[:cut])
}
