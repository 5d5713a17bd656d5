package testutil

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// clock hands out strictly increasing commit dates so that rev-list order is
// stable across test commits.
var clock atomic.Int64

func init() {
	clock.Store(1700000000)
}

// Git runs git in dir with a fixed test identity and returns its trimmed
// stdout. The test fails on a non-zero exit.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	out, err := GitCmd(dir, args...).Output()
	if err != nil {
		var stderr string
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = string(exitErr.Stderr)
		}
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, stderr)
	}
	return strings.TrimSpace(string(out))
}

// GitCmd prepares a git command with the test identity and a fresh date.
func GitCmd(dir string, args ...string) *exec.Cmd {
	date := fmt.Sprintf("%d +0000", clock.Add(60))
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_AUTHOR_DATE="+date,
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
		"GIT_COMMITTER_DATE="+date,
	)
	return cmd
}

// InitRepo creates a repository at dir with the given initial branch.
func InitRepo(t testing.TB, dir, branch string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	Git(t, dir, "init", "-q", "-b", branch)
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
	Git(t, dir, "config", "commit.gpgsign", "false")
}

// CommitFile creates or overwrites name with content, commits it and returns
// the new commit id.
func CommitFile(t testing.TB, dir, name, content, msg string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	Git(t, dir, "add", name)
	Git(t, dir, "commit", "-q", "-m", msg)
	return Git(t, dir, "rev-parse", "HEAD")
}

// PullRequest is a repository shaped like a pull request checkout: a base
// branch that moved on after the topic branch forked, and a merge of the two.
type PullRequest struct {
	Dir       string
	MergeBase string
	Base      string
	Head      string
	// Commits on the topic branch, oldest first.
	Commits []string
	// Merge is the merge commit of Base (first parent) and Head. With no
	// topic commits there is nothing to merge and Merge equals Base.
	Merge string
}

// NewPullRequest builds a PullRequest fixture in dir with n topic commits.
func NewPullRequest(t testing.TB, dir string, n int) *PullRequest {
	t.Helper()
	InitRepo(t, dir, "main")
	pr := &PullRequest{Dir: dir}
	CommitFile(t, dir, "README", "aquarium\n", "Initial commit")
	pr.MergeBase = CommitFile(t, dir, "src/main.cc", "int main() {}\n", "Add main")

	Git(t, dir, "checkout", "-q", "-b", "topic")
	for i := range n {
		id := CommitFile(t, dir, fmt.Sprintf("src/fish%d.cc", i), fmt.Sprintf("fish %d\n", i), fmt.Sprintf("Add fish %d\n\nBody of change %d.", i, i))
		pr.Commits = append(pr.Commits, id)
	}
	pr.Head = Git(t, dir, "rev-parse", "HEAD")

	Git(t, dir, "checkout", "-q", "main")
	pr.Base = CommitFile(t, dir, "docs/NOTES", "base moved\n", "Update notes")

	Git(t, dir, "merge", "-q", "--no-ff", "--no-edit", "-m", "Merge topic", "topic")
	pr.Merge = Git(t, dir, "rev-parse", "HEAD")
	return pr
}
