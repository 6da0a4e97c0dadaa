package version

import (
	"strings"
	"testing"
)

func TestGet_LdflagsWin(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version = "v1.2.3"
	Commit = "abc123"

	info := Get()
	if info.AppName != AppName {
		t.Errorf("AppName = %q", info.AppName)
	}
	if info.Version != "v1.2.3" {
		t.Errorf("Version = %q", info.Version)
	}
	if info.Commit != "abc123" {
		t.Errorf("Commit = %q, ldflags value should not be replaced", info.Commit)
	}
}

func TestShort(t *testing.T) {
	dirty := true
	s := Info{AppName: "basicweb", Version: "v1", Commit: "c", GoVersion: "go1.24", VCSDirty: &dirty}.Short()
	for _, want := range []string{"basicweb v1", "commit=c", "go=go1.24", "dirty=true"} {
		if !strings.Contains(s, want) {
			t.Errorf("Short() = %q, missing %q", s, want)
		}
	}
}

func TestShort_UnknownDirty(t *testing.T) {
	if s := (Info{}).Short(); !strings.Contains(s, "dirty=unknown") {
		t.Fatalf("Short() = %q", s)
	}
}
