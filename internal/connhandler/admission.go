// Admission checks: shell/path/container whitelists, adapted from
// sshterminal.ValidateShell and generalized to the gateway's broader
// allow-list surface.
package connhandler

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

func validateShell(shell string, allowed []string) error {
	if shell == "" || len(allowed) == 0 {
		return nil
	}
	base := filepath.Base(shell)
	for _, a := range allowed {
		if shell == a || strings.EqualFold(base, filepath.Base(a)) {
			return nil
		}
	}
	return fmt.Errorf("shell %q is not in the allowed list", shell)
}

func validateCwd(cwd string, allowed []string) error {
	if cwd == "" || len(allowed) == 0 {
		return nil
	}
	norm := filepath.Clean(cwd)
	for _, a := range allowed {
		if strings.HasPrefix(norm, filepath.Clean(a)) {
			return nil
		}
	}
	return fmt.Errorf("cwd %q is outside the allowed paths", cwd)
}

func validateContainer(container string, patterns []*regexp.Regexp) error {
	if len(patterns) == 0 {
		return nil
	}
	for _, p := range patterns {
		if p.MatchString(container) {
			return nil
		}
	}
	return fmt.Errorf("container %q does not match any allowed pattern", container)
}
