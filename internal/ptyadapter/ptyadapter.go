// Package ptyadapter launches child processes attached to a pseudo-terminal
// and exposes the four-verb interface the session multiplexer drives:
// write, resize, kill, plus the on_data/on_exit event streams.
//
// Adapted from agent/src/services/terminal.go, the only file in the pack
// that allocates a real PTY for a local child process with
// github.com/creack/pty. That file bridged a single hardcoded "su - abc"
// shell over a yamux stream; this package generalizes it to the three spawn
// profiles the gateway needs (local shell, container exec, container
// attach) and turns the ad hoc read-loop-with-framing into a reusable type
// with data/exit callbacks, since here the same PTY fans out to many
// clients instead of one fixed stream.
package ptyadapter

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Profile identifies how the child process should be launched.
type Profile int

const (
	// ProfileLocal runs a local shell directly.
	ProfileLocal Profile = iota
	// ProfileContainerExec runs `<runtime> exec -it [...] CONTAINER SHELL`.
	ProfileContainerExec
	// ProfileContainerAttach runs `<runtime> attach --sig-proxy=false ... CONTAINER`.
	ProfileContainerAttach
)

// Spawn describes a child process to start.
type Spawn struct {
	Profile Profile

	// Local shell fields.
	Shell string
	Args  []string
	Dir   string
	Env   map[string]string // overlay on the inherited environment

	// Container fields (ProfileContainerExec / ProfileContainerAttach).
	RuntimePath   string // e.g. "docker"
	Container     string
	ContainerUser string
	ContainerCwd  string
	ContainerEnv  map[string]string

	Cols uint16
	Rows uint16
}

// defaultTerm is set on every child unless the caller's Env overrides it.
const defaultTerm = "TERM=xterm-256color"

// buildCommand turns a Spawn into an *exec.Cmd with argv built per the
// three spawn profiles (local shell, container exec, container attach).
func buildCommand(s Spawn) (*exec.Cmd, error) {
	switch s.Profile {
	case ProfileLocal:
		if s.Shell == "" {
			return nil, fmt.Errorf("ptyadapter: empty shell for local profile")
		}
		cmd := exec.Command(s.Shell, s.Args...)
		if s.Dir != "" {
			cmd.Dir = s.Dir
		}
		cmd.Env = buildEnv(s.Env)
		return cmd, nil

	case ProfileContainerExec:
		runtime := s.RuntimePath
		if runtime == "" {
			runtime = "docker"
		}
		if s.Container == "" {
			return nil, fmt.Errorf("ptyadapter: empty container for exec profile")
		}
		shell := s.Shell
		if shell == "" {
			shell = "/bin/sh"
		}
		args := []string{"exec", "-it"}
		if s.ContainerUser != "" {
			args = append(args, "-u", s.ContainerUser)
		}
		if s.ContainerCwd != "" {
			args = append(args, "-w", s.ContainerCwd)
		}
		for k, v := range s.ContainerEnv {
			args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
		}
		args = append(args, s.Container, shell)
		cmd := exec.Command(runtime, args...)
		cmd.Env = buildEnv(s.Env)
		return cmd, nil

	case ProfileContainerAttach:
		runtime := s.RuntimePath
		if runtime == "" {
			runtime = "docker"
		}
		if s.Container == "" {
			return nil, fmt.Errorf("ptyadapter: empty container for attach profile")
		}
		args := []string{"attach", "--sig-proxy=false", "--detach-keys=ctrl-p,ctrl-q", s.Container}
		cmd := exec.Command(runtime, args...)
		cmd.Env = buildEnv(s.Env)
		return cmd, nil

	default:
		return nil, fmt.Errorf("ptyadapter: unknown profile %d", s.Profile)
	}
}

func buildEnv(overlay map[string]string) []string {
	env := os.Environ()
	hasTerm := false
	for k := range overlay {
		if k == "TERM" {
			hasTerm = true
		}
	}
	if !hasTerm {
		env = append(env, defaultTerm)
	}
	for k, v := range overlay {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// Adapter owns one child process attached to a PTY.
type Adapter struct {
	cmd  *exec.Cmd
	ptmx *os.File

	onData func([]byte)
	onExit func(code int)

	mu     sync.Mutex
	closed bool

	exitOnce sync.Once
}

// Start launches the child process described by s and begins relaying its
// output to onData. onExit fires exactly once with the child's exit code
// (-1 for a forced/idle kill). Both callbacks are invoked from an internal
// goroutine and must not block for long.
func Start(s Spawn, onData func([]byte), onExit func(code int)) (*Adapter, error) {
	cmd, err := buildCommand(s)
	if err != nil {
		return nil, err
	}

	winsize := &pty.Winsize{Cols: s.Cols, Rows: s.Rows}
	if winsize.Cols == 0 {
		winsize.Cols = 80
	}
	if winsize.Rows == 0 {
		winsize.Rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, winsize)
	if err != nil {
		return nil, fmt.Errorf("ptyadapter: start: %w", err)
	}

	a := &Adapter{
		cmd:    cmd,
		ptmx:   ptmx,
		onData: onData,
		onExit: onExit,
	}
	go a.readLoop()
	return a, nil
}

func (a *Adapter) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := a.ptmx.Read(buf)
		if n > 0 && a.onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.onData(chunk)
		}
		if err != nil {
			a.finish()
			return
		}
	}
}

func (a *Adapter) finish() {
	code := -1
	if err := a.cmd.Wait(); err == nil {
		if a.cmd.ProcessState != nil {
			code = a.cmd.ProcessState.ExitCode()
		}
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}
	a.ptmx.Close()
	a.exitOnce.Do(func() {
		if a.onExit != nil {
			a.onExit(code)
		}
	})
}

// Write sends bytes to the child's stdin (the PTY master).
func (a *Adapter) Write(p []byte) (int, error) {
	return a.ptmx.Write(p)
}

// Resize changes the PTY's terminal geometry.
func (a *Adapter) Resize(cols, rows uint16) error {
	return pty.Setsize(a.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Kill terminates the child process. It sends SIGTERM, waits briefly for a
// graceful exit, then sends SIGKILL if the process is still alive. onExit
// fires from the read loop's finish() exactly once regardless of which
// signal actually ended the process.
func (a *Adapter) Kill() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if a.cmd.Process == nil {
		return nil
	}

	if err := a.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Printf("[pty] sigterm failed for pid %d: %v", a.cmd.Process.Pid, err)
	}

	done := make(chan struct{})
	go func() {
		a.ptmx.Read(make([]byte, 1)) // nudge the read loop if it's parked
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		if err := a.cmd.Process.Kill(); err != nil {
			log.Printf("[pty] sigkill failed for pid %d: %v", a.cmd.Process.Pid, err)
		}
	}
	return nil
}

// Closed reports whether Kill has been called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// ensure io.Writer/io.Closer-shaped usage stays obvious at call sites.
var _ io.Writer = (*Adapter)(nil)
