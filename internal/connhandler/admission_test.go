package connhandler

import (
	"regexp"
	"testing"
)

func TestValidateShellWhitelist(t *testing.T) {
	allowed := []string{"/bin/bash", "/bin/zsh"}
	if err := validateShell("/bin/bash", allowed); err != nil {
		t.Fatalf("expected /bin/bash to be allowed: %v", err)
	}
	if err := validateShell("bash", allowed); err != nil {
		t.Fatalf("expected basename match to be allowed: %v", err)
	}
	if err := validateShell("/usr/bin/evil", allowed); err == nil {
		t.Fatalf("expected unlisted shell to be rejected")
	}
}

func TestValidateShellEmptyAllowListMeansAny(t *testing.T) {
	if err := validateShell("/anything", nil); err != nil {
		t.Fatalf("empty allow-list should permit anything: %v", err)
	}
}

func TestValidateCwdPrefixMatch(t *testing.T) {
	allowed := []string{"/srv/app"}
	if err := validateCwd("/srv/app/sub", allowed); err != nil {
		t.Fatalf("expected prefix match to be allowed: %v", err)
	}
	if err := validateCwd("/etc", allowed); err == nil {
		t.Fatalf("expected cwd outside allow-list to be rejected")
	}
}

func TestValidateContainerPatterns(t *testing.T) {
	patterns := []*regexp.Regexp{regexp.MustCompile("^web-.*")}
	if err := validateContainer("web-1", patterns); err != nil {
		t.Fatalf("expected web-1 to match: %v", err)
	}
	if err := validateContainer("db-1", patterns); err == nil {
		t.Fatalf("expected db-1 to be rejected")
	}
}

func TestValidateContainerEmptyPatternsMeansAny(t *testing.T) {
	if err := validateContainer("anything", nil); err != nil {
		t.Fatalf("empty pattern list should allow anything: %v", err)
	}
}
