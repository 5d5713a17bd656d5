package templates

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"al.essio.dev/pkg/shellescape"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/shell"

	"github.com/schaermu/cishim/internal/git"
	"github.com/schaermu/cishim/internal/overlay"
	"github.com/schaermu/cishim/internal/sync"
	"github.com/schaermu/cishim/internal/testutil"
)

func testEngine() *sync.Engine {
	return sync.NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)), false)
}

func overlayHook(binary string) Hook {
	return Hook{
		Kind:   Overlay,
		Binary: binary,
		Tag:    "GITHUB_SHA",
		Request: overlay.Request{
			Base:   "0123abcd^1",
			Head:   "4567ef^2",
			Verify: "4567ef",
		},
	}
}

func TestScript_Overlay(t *testing.T) {
	h := overlayHook("/opt/my tools/cishim")
	h.ConfigFile = "/etc/cishim's.yaml"

	script, err := h.Script()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(script, "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "#!/bin/sh", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "exec "))

	fields, err := shell.Fields(strings.TrimPrefix(lines[1], "exec "), func(string) string { return "" })
	require.NoError(t, err)
	require.Equal(t, []string{
		"/opt/my tools/cishim",
		"--config", "/etc/cishim's.yaml",
		"overlay", "create",
		"--tag", "GITHUB_SHA",
		"--base", "0123abcd^1",
		"--head", "4567ef^2",
		"--verify", "4567ef",
	}, fields)
}

func TestScript_Kinds(t *testing.T) {
	script, err := Hook{Kind: NoOp}.Script()
	require.NoError(t, err)
	require.Equal(t, "#!/bin/sh\nexit 0\n", script)

	script, err = Hook{Kind: Empty}.Script()
	require.NoError(t, err)
	require.Empty(t, script)

	_, err = Hook{Kind: Overlay}.Script()
	require.Error(t, err, "overlay hook without binary")

	_, err = Hook{Kind: Kind(9)}.Script()
	require.Error(t, err)
	require.Equal(t, "Kind(9)", Kind(9).String())
}

func TestMaterialize_Empty(t *testing.T) {
	stage := t.TempDir()
	require.NoError(t, Materialize(stage, Hook{Kind: Empty}))

	entries, err := os.ReadDir(filepath.Join(stage, Dir))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMaterialize_HookIsExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no execute bits on windows")
	}
	stage := t.TempDir()
	require.NoError(t, Materialize(stage, Hook{Kind: NoOp}))

	info, err := os.Stat(filepath.Join(stage, Dir, "hooks", "post-checkout"))
	require.NoError(t, err)
	require.Equal(t, fs.FileMode(0755), info.Mode().Perm())
}

func TestInstall_ReplacesStaleTemplates(t *testing.T) {
	workspace := t.TempDir()
	stale := filepath.Join(workspace, Dir)
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "hooks"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "info"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "hooks", "pre-commit"), []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "info", "exclude"), []byte("*.o\n"), 0644))
	// Untouched: outside the template directory.
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "gn.txt"), []byte("is_debug = true"), 0644))

	report, err := Install(testEngine(), workspace, Hook{Kind: NoOp})
	require.NoError(t, err)
	require.Equal(t, 3, report.Count(sync.Delete), "pre-commit, info/exclude, info")
	require.Equal(t, 1, report.Count(sync.Create))

	got, err := os.ReadFile(filepath.Join(stale, "hooks", "post-checkout"))
	require.NoError(t, err)
	require.Equal(t, noOpScript, string(got))
	require.NoFileExists(t, filepath.Join(stale, "hooks", "pre-commit"))
	require.NoDirExists(t, filepath.Join(stale, "info"))
	require.FileExists(t, filepath.Join(workspace, "gn.txt"))

	// The staging directory is gone.
	entries, err := os.ReadDir(workspace)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{Dir, "gn.txt"}, names)
}

func TestInstall_EmptyRemovesHooks(t *testing.T) {
	workspace := t.TempDir()
	_, err := Install(testEngine(), workspace, overlayHook("/usr/local/bin/cishim"))
	require.NoError(t, err)

	_, err = Install(testEngine(), workspace, Hook{Kind: Empty})
	require.NoError(t, err)

	require.DirExists(t, filepath.Join(workspace, Dir))
	require.NoDirExists(t, filepath.Join(workspace, Dir, "hooks"))
}

func TestInstall_CloneRunsOverlayHook(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook script needs a POSIX shell")
	}
	ctx := context.Background()

	upstream := filepath.Join(t.TempDir(), "upstream")
	testutil.InitRepo(t, upstream, "main")
	testutil.CommitFile(t, upstream, "README", "fish\n", "Initial commit")

	// A stand-in for the cishim binary that records its arguments.
	bin := t.TempDir()
	record := filepath.Join(bin, "args")
	fake := filepath.Join(bin, "cishim")
	script := "#!/bin/sh\nprintf '%s\\n' \"$PWD\" \"$@\" > " + shellescape.Quote(record) + "\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0755))

	workspace := t.TempDir()
	_, err := Install(testEngine(), workspace, overlayHook(fake))
	require.NoError(t, err)

	client := &git.ShellClient{Stdout: io.Discard, Stderr: io.Discard}
	require.NoError(t, client.Clone(ctx, workspace, upstream, "aquarium", filepath.Join(workspace, Dir)))

	got, err := os.ReadFile(record)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(got), "\n"), "\n")
	checkout, err := filepath.EvalSymlinks(filepath.Join(workspace, "aquarium"))
	require.NoError(t, err)
	pwd, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	require.Equal(t, checkout, pwd, "hook runs in the new checkout")
	require.Equal(t, []string{
		"overlay", "create",
		"--tag", "GITHUB_SHA",
		"--base", "0123abcd^1",
		"--head", "4567ef^2",
		"--verify", "4567ef",
	}, lines[1:])
}
