package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/config"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/models"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/policy"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/scanerr"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/state"
)

func seedState(t *testing.T, path string, entries ...state.Entry) {
	t.Helper()
	if err := state.NewFileStore(path).Save(context.Background(), state.FromEntries(entries)); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func loadState(t *testing.T, path string) *state.ScanState {
	t.Helper()
	st, err := state.NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return st
}

func entry(resourceKey, ruleID string, firstSeen time.Time) state.Entry {
	return state.Entry{
		Fingerprint: models.Fingerprint(resourceKey, ruleID),
		ResourceKey: resourceKey,
		Kind:        models.KindBucket,
		RuleID:      ruleID,
		FirstSeen:   firstSeen,
		LastSeen:    firstSeen,
	}
}

const (
	keyLogs   = "aws:123456789012:bucket:logs"
	keyAssets = "aws:123456789012:bucket:assets"
)

// ── state ─────────────────────────────────────────────────────────────────────

func TestStateList_Table(t *testing.T) {
	env := newTestEnv(t, "")
	now := time.Now().UTC().Truncate(time.Second)
	seedState(t, env.statePath, entry(keyLogs, "bucket-public-access", now))

	out, err := env.run(t, goodMockAWS(), "state", "list")
	if err != nil {
		t.Fatalf("state list: %v", err)
	}
	for _, want := range []string{"FINGERPRINT", "bucket-public-access", keyLogs, "1 fingerprint(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q;\ngot:\n%s", want, out)
		}
	}
}

func TestStateList_EmptyJSON(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, goodMockAWS(), "state", "list", "--format", "json")
	if err != nil {
		t.Fatalf("state list: %v", err)
	}
	var entries []state.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("want empty array, got %q", out)
	}
}

func TestStateClear_Fingerprint(t *testing.T) {
	env := newTestEnv(t, "")
	now := time.Now().UTC()
	keep := entry(keyAssets, "bucket-public-access", now)
	drop := entry(keyLogs, "bucket-public-access", now)
	seedState(t, env.statePath, keep, drop)

	out, err := env.run(t, goodMockAWS(), "state", "clear", drop.Fingerprint)
	if err != nil {
		t.Fatalf("state clear: %v", err)
	}
	if !strings.Contains(out, "Removed 1 fingerprint(s)") {
		t.Errorf("unexpected output %q", out)
	}
	st := loadState(t, env.statePath)
	if _, ok := st.Get(drop.Fingerprint); ok {
		t.Error("cleared fingerprint still present")
	}
	if _, ok := st.Get(keep.Fingerprint); !ok {
		t.Error("unrelated fingerprint was removed")
	}
}

func TestStateClear_Resource(t *testing.T) {
	env := newTestEnv(t, "")
	now := time.Now().UTC()
	seedState(t, env.statePath,
		entry(keyLogs, "bucket-public-access", now),
		entry(keyLogs, "bucket-unencrypted", now),
		entry(keyAssets, "bucket-public-access", now),
	)

	if _, err := env.run(t, goodMockAWS(), "state", "clear", "--resource", keyLogs); err != nil {
		t.Fatalf("state clear --resource: %v", err)
	}
	if n := loadState(t, env.statePath).Len(); n != 1 {
		t.Errorf("entries left: got %d; want 1", n)
	}
}

func TestStateClear_All(t *testing.T) {
	env := newTestEnv(t, "")
	now := time.Now().UTC()
	seedState(t, env.statePath, entry(keyLogs, "a", now), entry(keyAssets, "b", now))

	if _, err := env.run(t, goodMockAWS(), "state", "clear", "--all"); err != nil {
		t.Fatalf("state clear --all: %v", err)
	}
	if n := loadState(t, env.statePath).Len(); n != 0 {
		t.Errorf("entries left: got %d; want 0", n)
	}
}

func TestStateClear_RequiresExactlyOneMode(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.run(t, goodMockAWS(), "state", "clear"); err == nil {
		t.Error("expected error with no target")
	}
	if _, err := env.run(t, goodMockAWS(), "state", "clear", "--all", "--resource", keyLogs); err == nil {
		t.Error("expected error with two targets")
	}
}

func TestStatePrune_ExpiryFlag(t *testing.T) {
	env := newTestEnv(t, "")
	now := time.Now().UTC()
	old := entry(keyLogs, "bucket-public-access", now.Add(-400*time.Hour))
	fresh := entry(keyAssets, "bucket-public-access", now.Add(-time.Hour))
	seedState(t, env.statePath, old, fresh)

	out, err := env.run(t, goodMockAWS(), "state", "prune", "--expiry", "168h")
	if err != nil {
		t.Fatalf("state prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 1 fingerprint(s)") {
		t.Errorf("unexpected output %q", out)
	}
	st := loadState(t, env.statePath)
	if _, ok := st.Get(old.Fingerprint); ok {
		t.Error("expired fingerprint survived prune")
	}
	if _, ok := st.Get(fresh.Fingerprint); !ok {
		t.Error("fresh fingerprint was pruned")
	}
}

func TestStatePrune_NoExpiryFails(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.run(t, goodMockAWS(), "state", "prune"); err == nil {
		t.Error("expected error when no expiry is configured")
	}
}

func TestStateList_SQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	env := &testEnv{dir: dir, configPath: filepath.Join(dir, "config.yaml")}
	body := "state:\n  backend: sqlite\n  path: " + filepath.Join(dir, "state.db") + "\nlogging:\n  level: error\n"
	if err := os.WriteFile(env.configPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := env.run(t, goodMockAWS(), "state", "list")
	if err != nil {
		t.Fatalf("state list: %v", err)
	}
	if !strings.Contains(out, "No fingerprints recorded.") {
		t.Errorf("unexpected output %q", out)
	}
}

// ── rules and policy ──────────────────────────────────────────────────────────

func TestRulesCmd_ListsPack(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, goodMockAWS(), "rules")
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	for _, want := range []string{
		"bucket-public-access",
		"role-unrestricted-access",
		"role-public-trust",
		"instance-open-security-group",
		"storage", "identity", "compute",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q;\ngot:\n%s", want, out)
		}
	}
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pw.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPolicyValidate_OK(t *testing.T) {
	env := newTestEnv(t, "")
	path := writePolicy(t, "version: 1\nenforcement:\n  all:\n    fail_on_severity: HIGH\n")
	out, err := env.run(t, goodMockAWS(), "policy", "validate", path)
	if err != nil {
		t.Fatalf("policy validate: %v", err)
	}
	if !strings.Contains(out, "OK") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestPolicyValidate_UnknownRule(t *testing.T) {
	env := newTestEnv(t, "")
	path := writePolicy(t, "version: 1\nrules:\n  no-such-rule:\n    severity: LOW\n")
	out, err := env.run(t, goodMockAWS(), "policy", "validate", path)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Fatalf("want exitError code 1, got %v", err)
	}
	if !strings.Contains(out, "no-such-rule") {
		t.Errorf("output should name the unknown rule; got %q", out)
	}
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func makeReport(findings ...models.Finding) *models.ScanReport {
	r := &models.ScanReport{ScanID: "scan-1", AccountID: "123456789012", Findings: findings}
	models.ComputeSummary(&r.Summary, r.Findings, nil)
	return r
}

func highBucketFinding() models.Finding {
	return models.Finding{
		RuleID:   "bucket-public-access",
		Resource: models.ResourceRef{Provider: "aws", AccountID: "123456789012", Kind: models.KindBucket, ID: "logs"},
		Severity: models.SeverityHigh,
		Status:   models.StatusNotified,
	}
}

func TestScanExit_Clean(t *testing.T) {
	if err := scanExit(makeReport(highBucketFinding()), nil, nil); err != nil {
		t.Errorf("no policy: want nil, got %v", err)
	}
}

func TestScanExit_Enforcement(t *testing.T) {
	pol := &policy.PolicyConfig{Version: 1, Enforcement: map[string]policy.EnforcementConfig{
		"storage": {FailOnSeverity: "HIGH"},
	}}
	err := scanExit(makeReport(highBucketFinding()), nil, pol)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != exitEnforcement {
		t.Fatalf("want exit %d, got %v", exitEnforcement, err)
	}
}

func TestScanExit_TimeoutWinsOverEnforcement(t *testing.T) {
	pol := &policy.PolicyConfig{Version: 1, Enforcement: map[string]policy.EnforcementConfig{
		"all": {FailOnSeverity: "LOW"},
	}}
	scanErr := errors.Join(scanerr.ErrScanTimeout, errors.New("3 resources not processed"))
	err := scanExit(makeReport(highBucketFinding()), scanErr, pol)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != exitTimeout {
		t.Fatalf("want exit %d, got %v", exitTimeout, err)
	}
}

func TestScanExit_OtherErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	if err := scanExit(makeReport(), boom, nil); !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
}

func TestRenderReport_UnknownFormat(t *testing.T) {
	var sb strings.Builder
	if err := renderReport(&sb, makeReport(), "xml", false); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestWriteReportToFile_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := writeReportToFile(path, makeReport(highBucketFinding())); err != nil {
		t.Fatalf("writeReportToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got models.ScanReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.ScanID != "scan-1" || len(got.Findings) != 1 {
		t.Errorf("unexpected report %+v", got)
	}
}

func TestWriteReportToFile_InvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "report.json")
	if err := writeReportToFile(path, makeReport()); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	if _, err := openStore(config.StateConfig{Backend: "redis"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestReadOnlyStore_DiscardsSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := readOnlyStore{state.NewFileStore(path)}
	st := state.FromEntries([]state.Entry{entry(keyLogs, "x", time.Now().UTC())})
	if err := s.Save(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("dry-run store wrote %s", path)
	}
}
