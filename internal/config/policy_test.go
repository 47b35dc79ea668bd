package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadPolicyFileParsesAllowlists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := []byte("allowed_shells: [\"/bin/bash\", \"/bin/sh\"]\n" +
		"allowed_paths: [\"/home\", \"/workspace\"]\n" +
		"allowed_container_patterns: [\"^dev-.*$\"]\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	doc, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if !reflect.DeepEqual(doc.AllowedShells, []string{"/bin/bash", "/bin/sh"}) {
		t.Fatalf("unexpected allowed_shells: %+v", doc.AllowedShells)
	}
	if !reflect.DeepEqual(doc.AllowedContainerPatterns, []string{"^dev-.*$"}) {
		t.Fatalf("unexpected allowed_container_patterns: %+v", doc.AllowedContainerPatterns)
	}
}

func TestPolicyDocumentApplyToOnlyOverridesNonEmptyLists(t *testing.T) {
	doc := &PolicyDocument{AllowedShells: []string{"/bin/zsh"}}
	s := &Settings{
		AllowedShells: []string{"/bin/bash"},
		AllowedPaths:  []string{"/existing"},
	}
	doc.ApplyTo(s)

	if !reflect.DeepEqual(s.AllowedShells, []string{"/bin/zsh"}) {
		t.Fatalf("expected allowed_shells overridden, got %+v", s.AllowedShells)
	}
	if !reflect.DeepEqual(s.AllowedPaths, []string{"/existing"}) {
		t.Fatalf("expected allowed_paths left untouched, got %+v", s.AllowedPaths)
	}
}
