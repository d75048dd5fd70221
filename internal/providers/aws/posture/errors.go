package awsposture

import (
	"context"
	"errors"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"SlowDown":                               true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"InternalError":                          true,
	"InternalFailure":                        true,
	"ServiceUnavailable":                     true,
	"Unavailable":                            true,
	"EC2ThrottledException":                  true,
	"PriorRequestNotComplete":                true,
	"BandwidthLimitExceeded":                 true,
	"ProvisionedThroughputExceededException": true,
}

// errorCode returns the API error code of err, or "".
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isAccessDenied(err error) bool {
	switch errorCode(err) {
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation", "AllAccessDisabled":
		return true
	}
	return false
}

// classify wraps an SDK error with a scanerr.Class so the scanner knows
// whether to retry. Throttling, timeouts and 5xx are transient; access and
// not-found errors are permanent.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	code := errorCode(err)
	class := scanerr.ClassPermanent

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case transientCodes[code]:
		class = scanerr.ClassTransient
	case code != "":
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer {
			class = scanerr.ClassTransient
		}
		var re *awshttp.ResponseError
		if errors.As(err, &re) && re.HTTPStatusCode() >= 500 {
			class = scanerr.ClassTransient
		}
	default:
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			if s := re.HTTPStatusCode(); s >= 500 || s == 429 {
				class = scanerr.ClassTransient
			}
			break
		}
		// No API code and no HTTP response: a network failure.
		class = scanerr.ClassTransient
	}
	return &scanerr.ProviderError{Op: op, Code: code, Class: class, Err: err}
}
