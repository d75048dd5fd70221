package version

import (
	"strings"
	"testing"
)

func TestInfo_ContainsVariables(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "1.2.3"

	info := Info()
	for _, want := range []string{"pw version 1.2.3", "commit: " + Commit, "built: " + Date} {
		if !strings.Contains(info, want) {
			t.Errorf("Info() missing %q:\n%s", want, info)
		}
	}
	if UserAgent() != "posture-watch/1.2.3" {
		t.Errorf("UserAgent: got %q", UserAgent())
	}
}
