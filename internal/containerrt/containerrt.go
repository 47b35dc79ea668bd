// Package containerrt invokes the external container runtime CLI (docker,
// or a compatible binary) as an ordinary child process — argv in, stdout
// parsed out. No library binding to the runtime is used, which is also
// exactly how control-plane's own orchestrator.ExecFunc-shaped helpers
// (orchestrator/common.go) invoke commands inside a container: build an
// argv slice, run it, read stdout/stderr/exit code.
package containerrt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// State is the normalized lifecycle state of a listed container.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateExited  State = "exited"
	StateUnknown State = "unknown"
)

// Container is one row of `<runtime> ps` output.
type Container struct {
	ID     string
	Name   string
	Image  string
	Status string
	State  State
}

const psFormat = `{{.ID}}\t{{.Names}}\t{{.Image}}\t{{.Status}}\t{{.State}}`

// List runs `<runtime> ps --format ...` and parses the tab-delimited rows.
// Results are filtered to containers whose id or name matches one of
// patterns; an empty patterns list matches everything.
func List(ctx context.Context, runtimePath string, patterns []*regexp.Regexp) ([]Container, error) {
	if runtimePath == "" {
		runtimePath = "docker"
	}

	cmd := exec.CommandContext(ctx, runtimePath, "ps", "--format", psFormat)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("containerrt: %s ps: %w: %s", runtimePath, err, stderr.String())
	}

	var out []Container
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			continue
		}
		c := Container{
			ID:     fields[0],
			Name:   fields[1],
			Image:  fields[2],
			Status: fields[3],
			State:  normalizeState(fields[4]),
		}
		if !matches(c, patterns) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func normalizeState(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return StateRunning
	case "paused":
		return StatePaused
	case "exited":
		return StateExited
	default:
		return StateUnknown
	}
}

func matches(c Container, patterns []*regexp.Regexp) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p.MatchString(c.ID) || p.MatchString(c.Name) {
			return true
		}
	}
	return false
}

// CompilePatterns compiles each pattern as a regexp. A pattern that fails
// to compile falls back to an exact-or-prefix string match against id/name.
func CompilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
			continue
		}
		out = append(out, regexp.MustCompile("^"+regexp.QuoteMeta(p)))
	}
	return out
}

// AllowedTimeout bounds how long a `ps` invocation may run.
const AllowedTimeout = 5 * time.Second
