package scanerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassOf_WalksChain(t *testing.T) {
	base := &ProviderError{Op: "ListBuckets", Code: "Throttling", Class: ClassTransient, Err: errors.New("slow down")}
	wrapped := fmt.Errorf("list buckets: %w", base)
	if !IsTransient(wrapped) {
		t.Error("wrapped transient provider error must be transient")
	}
}

func TestClassOf_UnclassifiedIsPermanent(t *testing.T) {
	if ClassOf(errors.New("boom")) != ClassPermanent {
		t.Error("unclassified errors must be permanent")
	}
	if IsTransient(nil) {
		t.Error("nil must not be transient")
	}
}

func TestResourceUnreachable_UnwrapsToProviderError(t *testing.T) {
	pe := &ProviderError{Op: "GetBucketAcl", Code: "AccessDenied", Class: ClassPermanent, Err: errors.New("denied")}
	err := &ResourceUnreachableError{Key: "aws:1:bucket:b", Stage: "fetch", Class: pe.Class, Err: pe}
	var got *ProviderError
	if !errors.As(err, &got) || got.Code != "AccessDenied" {
		t.Errorf("errors.As must reach ProviderError, got %v", got)
	}
}

func TestNotificationFailed_Message(t *testing.T) {
	err := &NotificationFailedError{Fingerprint: "abc", Attempts: 3, Err: errors.New("503")}
	want := "notification for abc failed after 3 attempt(s): 503"
	if err.Error() != want {
		t.Errorf("got %q; want %q", err.Error(), want)
	}
}

func TestMalformedResource_Message(t *testing.T) {
	err := &MalformedResourceError{Key: "aws:1:role:r", Field: "trust_policy", Reason: "invalid JSON"}
	want := "malformed resource aws:1:role:r: trust_policy: invalid JSON"
	if err.Error() != want {
		t.Errorf("got %q; want %q", err.Error(), want)
	}
}

func TestRuleSkipped_PartialMessage(t *testing.T) {
	var rs *RuleSkippedError
	if err := Skip("r", "no data"); !errors.As(err, &rs) || rs.Partial || err.Error() != "rule r skipped: no data" {
		t.Errorf("Skip: got %v", err)
	}
	if err := SkipPartial("r", "acl unreadable"); !errors.As(err, &rs) || !rs.Partial || err.Error() != "rule r evaluated partially: acl unreadable" {
		t.Errorf("SkipPartial: got %v", err)
	}
}
