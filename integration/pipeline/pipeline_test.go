//go:build integration

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/schaermu/cishim/internal/testutil"
)

// fakeGN stands in for depot_tools' gn: "gn args out" opens the editor on
// out/args.gn.
const fakeGN = `#!/bin/sh
[ "$1 $2" = "args out" ] || exit 2
mkdir -p out
eval "$GN_EDITOR out/args.gn"
`

func TestPipeline(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pipeline test drives POSIX hooks")
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	if err := h.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}

	pr := testutil.NewPullRequest(t, filepath.Join(t.TempDir(), "upstream"), 2)
	short := testutil.Git(t, pr.Dir, "rev-parse", "--short", pr.Merge)
	workspace := t.TempDir()
	checkout := filepath.Join(workspace, pr.Head, "aquarium")

	scratch := t.TempDir()
	eventPath := filepath.Join(scratch, "event.json")
	writeFile(t, eventPath, fmt.Sprintf(`{"number": 7, "pull_request": {"number": 7,
  "head": {"sha": %q, "ref": "topic"}, "base": {"sha": %q, "ref": "main"}}}`, pr.Head, pr.Base), 0644)

	tools := filepath.Join(scratch, "depot_tools")
	writeFile(t, filepath.Join(tools, "gn"), fakeGN, 0755)

	cfgPath := filepath.Join(scratch, "cishim.yaml")
	writeFile(t, cfgPath, fmt.Sprintf("url: '%s'\ndepot_tools:\n  dir: '%s'\n", pr.Dir, tools), 0644)

	gitConfig := filepath.Join(scratch, "gitconfig")
	writeFile(t, gitConfig, "[user]\n\tname = CI\n\temail = ci@example.com\n[commit]\n\tgpgsign = false\n", 0644)

	h.Setenv("GIT_CONFIG_GLOBAL", gitConfig)
	h.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	h.Setenv("GITHUB_WORKSPACE", workspace)
	h.Setenv("GITHUB_EVENT_NAME", "pull_request")
	h.Setenv("GITHUB_EVENT_PATH", eventPath)
	h.Setenv("GITHUB_SHA", pr.Merge)
	h.Setenv("BUILD_CONFIG", short+"-x64-debug")

	t.Run("A_CloneCreatesOverlay", func(t *testing.T) {
		h.MustRun(ctx, "--config", cfgPath, "clone")

		tag := "refs/tags/GITHUB_SHA"
		if got := testutil.Git(t, checkout, "rev-parse", tag+"^1"); got != pr.Base {
			t.Errorf("tag^1 = %s, want base %s", got, pr.Base)
		}
		if got := testutil.Git(t, checkout, "rev-parse", tag+"^2"); got != pr.Head {
			t.Errorf("tag^2 = %s, want head %s", got, pr.Head)
		}
		if got := testutil.Git(t, checkout, "rev-parse", tag+"^3^"); got != pr.MergeBase {
			t.Errorf("tag^3^ = %s, want merge base %s", got, pr.MergeBase)
		}
		hook, err := os.ReadFile(filepath.Join(workspace, "git-templates", "hooks", "post-checkout"))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(hook), "overlay create") {
			t.Errorf("unexpected hook:\n%s", hook)
		}
	})

	t.Run("B_OverlayCreateIsIdempotent", func(t *testing.T) {
		before := testutil.Git(t, checkout, "rev-parse", "refs/tags/GITHUB_SHA")
		out := h.MustRun(ctx, "--config", cfgPath, "overlay", "create", "--dir", checkout)
		if strings.TrimSpace(out) != before {
			t.Errorf("overlay create printed %q, want %s", out, before)
		}
	})

	t.Run("C_OverlayShow", func(t *testing.T) {
		out := h.MustRun(ctx, "--config", cfgPath, "overlay", "show", "--dir", checkout)
		for _, want := range []string{"base:       " + pr.Base, "head:       " + pr.Head, "merge-base: " + pr.MergeBase} {
			if !strings.Contains(out, want) {
				t.Errorf("overlay show missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("D_RebaseSquashes", func(t *testing.T) {
		h.MustRun(ctx, "--config", cfgPath, "rebase")

		if got := testutil.Git(t, checkout, "rev-parse", "HEAD^"); got != pr.Base {
			t.Errorf("HEAD^ = %s, want base %s", got, pr.Base)
		}
		want := testutil.Git(t, pr.Dir, "show", "--no-patch", "--pretty=%B", pr.Commits[0])
		if got := testutil.Git(t, checkout, "show", "--no-patch", "--pretty=%B", "HEAD"); got != want {
			t.Errorf("HEAD message = %q, want %q", got, want)
		}
		staged, err := os.ReadFile(filepath.Join(workspace, "git.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(string(staged), "pick ") {
			t.Errorf("unexpected todo %q", staged)
		}
	})

	t.Run("E_GNArgs", func(t *testing.T) {
		h.MustRun(ctx, "--config", cfgPath, "gn-args")

		got, err := os.ReadFile(filepath.Join(checkout, "out", "args.gn"))
		if err != nil {
			t.Fatal(err)
		}
		if want := "target_cpu = \"x64\"\nis_debug = true"; string(got) != want {
			t.Errorf("args.gn = %q, want %q", got, want)
		}
	})

	t.Run("F_EmptyTemplates", func(t *testing.T) {
		h.MustRun(ctx, "--config", cfgPath, "templates", "sync", "--empty")

		if _, err := os.Stat(filepath.Join(workspace, "git-templates", "hooks")); !os.IsNotExist(err) {
			t.Errorf("hooks directory still present: %v", err)
		}
	})

	t.Run("G_BadVerifyFailsClone", func(t *testing.T) {
		other := t.TempDir()
		h.Setenv("GITHUB_WORKSPACE", other)
		h.Setenv("BUILD_CONFIG", "deadbeef-x64")
		defer func() {
			h.Setenv("GITHUB_WORKSPACE", workspace)
			h.Setenv("BUILD_CONFIG", short+"-x64-debug")
		}()

		_, stderr, code, err := h.Run(ctx, "--config", cfgPath, "clone")
		if err != nil {
			t.Fatal(err)
		}
		if code == 0 {
			t.Fatal("clone succeeded with an unknown build config commit")
		}
		if !strings.Contains(stderr, "head does not match") {
			t.Errorf("stderr does not name the mismatch:\n%s", stderr)
		}
	})
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
}
