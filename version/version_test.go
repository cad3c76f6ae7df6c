package version

import (
	"strings"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	info := Get()

	if info.Version != "dev" {
		t.Errorf("expected dev version, got %q", info.Version)
	}
	if info.GoVersion == "" {
		t.Error("expected go version from build info")
	}
}

func TestShortContainsVersion(t *testing.T) {
	if !strings.HasPrefix(Short(), "dev") {
		t.Errorf("expected short version to start with dev, got %q", Short())
	}
}

func TestShortCommitTruncation(t *testing.T) {
	info := Get()
	if info.GitCommit != "" && len(info.GitCommit) > 7 {
		t.Errorf("expected commit truncated to 7 chars, got %q", info.GitCommit)
	}
}
