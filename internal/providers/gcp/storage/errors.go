package gcpstorage

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
)

func isPermissionDenied(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusForbidden
}

// classify attaches a scanerr.Class to a storage error: 429 and 5xx are
// transient, other API errors are permanent, and an error with no API
// response is treated as a network failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	pe := &scanerr.ProviderError{Op: op, Class: scanerr.ClassPermanent, Err: err}

	var gerr *googleapi.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, storage.ErrBucketNotExist):
		pe.Code = strconv.Itoa(http.StatusNotFound)
	case errors.As(err, &gerr):
		pe.Code = strconv.Itoa(gerr.Code)
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			pe.Class = scanerr.ClassTransient
		}
	default:
		pe.Class = scanerr.ClassTransient
	}
	return pe
}
