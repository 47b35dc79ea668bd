// Optional policy document: shell/path/container allowlists expressed as
// YAML, as an alternative to setting long lists through environment
// variables. Loaded via gopkg.in/yaml.v3, the same library control-plane
// depends on for its own openclaw config file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyDocument is the on-disk shape of an optional allowlist file:
//
//	allowed_shells: ["/bin/bash", "/bin/sh"]
//	allowed_paths: ["/home", "/workspace"]
//	allowed_container_patterns: ["^dev-.*$"]
type PolicyDocument struct {
	AllowedShells            []string `yaml:"allowed_shells"`
	AllowedPaths             []string `yaml:"allowed_paths"`
	AllowedContainerPatterns []string `yaml:"allowed_container_patterns"`
}

// LoadPolicyFile reads and parses a YAML allowlist document from path.
func LoadPolicyFile(path string) (*PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy document %s: %w", path, err)
	}
	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse policy document %s: %w", path, err)
	}
	return &doc, nil
}

// ApplyTo overlays any non-empty allowlists from the policy document onto
// Settings, taking precedence over values loaded from the environment. An
// empty list in the document leaves the corresponding Settings field alone,
// so an operator can set just one allowlist in the file and the rest via
// envconfig.
func (d *PolicyDocument) ApplyTo(s *Settings) {
	if len(d.AllowedShells) > 0 {
		s.AllowedShells = d.AllowedShells
	}
	if len(d.AllowedPaths) > 0 {
		s.AllowedPaths = d.AllowedPaths
	}
	if len(d.AllowedContainerPatterns) > 0 {
		s.AllowedContainerPatterns = d.AllowedContainerPatterns
	}
}
