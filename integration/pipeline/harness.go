//go:build integration

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/cishim/internal/testutil"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the cishim binaries and runs them against a scratch
// workspace with a controlled CI environment
type Harness struct {
	t      *testing.T
	binDir string
	env    map[string]string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{
		t:      t,
		binDir: t.TempDir(),
		env:    map[string]string{},
	}
}

// Build compiles the cishim binaries into a scratch directory
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()
	dirs, err := testutil.CommandDirs()
	if err != nil {
		return fmt.Errorf("locate commands: %w", err)
	}

	for _, name := range testutil.Commands {
		out := filepath.Join(h.binDir, name+exeSuffix())
		cmd := exec.CommandContext(ctx, "go", "build", "-o", out, ".")
		cmd.Dir = dirs[name]
		cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
		cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("go build %s: %w", name, err)
		}
	}
	h.t.Logf("binaries built in %s", h.binDir)
	return nil
}

// Binary returns the path of a built binary
func (h *Harness) Binary(name string) string {
	return filepath.Join(h.binDir, name+exeSuffix())
}

// Setenv sets a variable for every subsequent Run
func (h *Harness) Setenv(name, value string) {
	h.env[name] = value
}

// environ is the process environment without the runner's own CI variables,
// overlaid with the harness variables.
func (h *Harness) environ() []string {
	var env []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "GITHUB_") || name == "BUILD_CONFIG" || name == "WORKSPACE_OVERRIDE" {
			continue
		}
		if _, ok := h.env[name]; ok {
			continue
		}
		env = append(env, kv)
	}
	for name, value := range h.env {
		env = append(env, name+"="+value)
	}
	return env
}

// Run executes cishim with args
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	cmd := exec.CommandContext(ctx, h.Binary("cishim"), args...)
	cmd.Env = h.environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes cishim and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}
