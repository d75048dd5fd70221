// Package scanerr defines the error taxonomy used across a scan.
//
// Recoverable errors (malformed resources, skipped rules, unreachable
// resources, failed notifications) are typed so the orchestrator can turn
// them into report diagnostics. ErrStateCorrupt is the only error that is
// expected to stop the process.
package scanerr

import (
	"errors"
	"fmt"
)

// Class tells the orchestrator whether retrying an operation can help.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

var (
	// ErrScanTimeout is returned when the scan deadline elapsed before
	// every resource could be started.
	ErrScanTimeout = errors.New("scan timeout")

	// ErrStateCorrupt is returned when persisted scan state cannot be
	// decoded. It is fatal.
	ErrStateCorrupt = errors.New("scan state corrupt")
)

// MalformedResourceError is returned by normalization when a payload lacks
// required fields or carries data that cannot be parsed.
type MalformedResourceError struct {
	Key    string
	Field  string
	Reason string
}

func (e *MalformedResourceError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed resource %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("malformed resource %s: %s: %s", e.Key, e.Field, e.Reason)
}

// RuleSkippedError reports that a rule's preconditions were not met for a
// resource. The rule produced no findings unless Partial is set, in which
// case the findings returned with the error stand but cover only part of
// the resource.
type RuleSkippedError struct {
	RuleID  string
	Reason  string
	Partial bool
}

func (e *RuleSkippedError) Error() string {
	if e.Partial {
		return fmt.Sprintf("rule %s evaluated partially: %s", e.RuleID, e.Reason)
	}
	return fmt.Sprintf("rule %s skipped: %s", e.RuleID, e.Reason)
}

// Skip is a shorthand used by rules.
func Skip(ruleID, reason string) error {
	return &RuleSkippedError{RuleID: ruleID, Reason: reason}
}

// SkipPartial is returned alongside findings when part of the resource could
// not be inspected.
func SkipPartial(ruleID, reason string) error {
	return &RuleSkippedError{RuleID: ruleID, Reason: reason, Partial: true}
}

// ResourceUnreachableError wraps a provider failure for one resource (or,
// with a wildcard key, one resource kind).
type ResourceUnreachableError struct {
	Key   string
	Stage string
	Class Class
	Err   error
}

func (e *ResourceUnreachableError) Error() string {
	return fmt.Sprintf("resource %s unreachable during %s (%s): %v", e.Key, e.Stage, e.Class, e.Err)
}

func (e *ResourceUnreachableError) Unwrap() error { return e.Err }

// NotificationFailedError is returned once a notification has exhausted
// its retries.
type NotificationFailedError struct {
	Fingerprint string
	Attempts    int
	Err         error
}

func (e *NotificationFailedError) Error() string {
	return fmt.Sprintf("notification for %s failed after %d attempt(s): %v", e.Fingerprint, e.Attempts, e.Err)
}

func (e *NotificationFailedError) Unwrap() error { return e.Err }

// ProviderError is how enumerators attach a Class and an API error code
// to an SDK failure.
type ProviderError struct {
	Op    string
	Code  string
	Class Class
	Err   error
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classifier is implemented by errors that know their own Class.
type Classifier interface {
	ErrorClass() Class
}

func (e *ProviderError) ErrorClass() Class { return e.Class }

func (e *ResourceUnreachableError) ErrorClass() Class { return e.Class }

// ClassOf walks err's chain and returns the first Class found. Errors
// without a class are treated as permanent.
func ClassOf(err error) Class {
	var c Classifier
	if errors.As(err, &c) {
		return c.ErrorClass()
	}
	return ClassPermanent
}

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}
