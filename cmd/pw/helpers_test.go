package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/pankaj-dahiya-devops/posture-watch/internal/config"
	"github.com/pankaj-dahiya-devops/posture-watch/internal/providers/aws/common"
)

// ── AWS mock ──────────────────────────────────────────────────────────────────

type mockAWSProvider struct {
	profileResult *common.ProfileConfig
	profileErr    error
	regionsResult []string
	regionsErr    error
	lastProfile   string
}

func (m *mockAWSProvider) LoadProfile(_ context.Context, profile, _ string) (*common.ProfileConfig, error) {
	m.lastProfile = profile
	return m.profileResult, m.profileErr
}

func (m *mockAWSProvider) ProfileNames() ([]string, error) { return []string{"default"}, nil }

func (m *mockAWSProvider) GetActiveRegions(_ context.Context, _ *common.ProfileConfig) ([]string, error) {
	return m.regionsResult, m.regionsErr
}

func (m *mockAWSProvider) ConfigForRegion(_ *common.ProfileConfig, region string) aws.Config {
	return aws.Config{Region: region}
}

func goodMockAWS() *mockAWSProvider {
	return &mockAWSProvider{
		profileResult: &common.ProfileConfig{
			ProfileName: "default",
			AccountID:   "123456789012",
			Region:      "us-east-1",
		},
		regionsResult: []string{"us-east-1", "eu-west-1"},
	}
}

// ── harness ───────────────────────────────────────────────────────────────────

// testEnv is a config file whose state lives in a temp directory.
type testEnv struct {
	dir        string
	configPath string
	statePath  string
}

func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		statePath:  filepath.Join(dir, "state.json"),
	}
	body := "state:\n  backend: file\n  path: " + env.statePath + "\nlogging:\n  level: error\n" + extra
	if err := os.WriteFile(env.configPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return env
}

// run executes pw with args against env and returns stdout and the error.
func (e *testEnv) run(t *testing.T, provider common.AWSClientProvider, args ...string) (string, error) {
	t.Helper()
	root := newRootCmdWith(&rootOptions{
		newViper:    config.NewViper,
		awsProvider: func() common.AWSClientProvider { return provider },
	})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}
