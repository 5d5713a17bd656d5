// Package git drives the git command line for the overlay, clone and rebase
// steps.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// PullMergeRefspec makes a clone fetch the merge refs GitHub keeps for pull requests.
const PullMergeRefspec = "+refs/pull/*/merge:refs/pull/origin/*/merge"

// ErrUnknownRevision is returned when a revision does not resolve.
var ErrUnknownRevision = errors.New("unknown revision")

// Client provides the git operations needed by cishim
type Client interface {
	Resolve(ctx context.Context, dir, rev string) (string, error)
	AbbrevCommit(ctx context.Context, dir, rev string) (string, error)
	MergeBase(ctx context.Context, dir, a, b string) (string, error)
	CommitTree(ctx context.Context, dir, tree string, parents []string, sig Signature) (string, error)
	HashEmptyTree(ctx context.Context, dir string) (string, error)
	Tag(ctx context.Context, dir, name, rev string) error
	RevList(ctx context.Context, dir string, revs ...string) ([]string, error)
	CommitTime(ctx context.Context, dir, rev string) (time.Time, error)
	RebaseInteractive(ctx context.Context, dir, onto, upstream string, env []string) error
}

// Signature pins the author and committer of a created commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s Signature) env() []string {
	date := fmt.Sprintf("%d %s", s.When.Unix(), s.When.Format("-0700"))
	return []string{
		"GIT_AUTHOR_NAME=" + s.Name,
		"GIT_AUTHOR_EMAIL=" + s.Email,
		"GIT_AUTHOR_DATE=" + date,
		"GIT_COMMITTER_NAME=" + s.Name,
		"GIT_COMMITTER_EMAIL=" + s.Email,
		"GIT_COMMITTER_DATE=" + date,
	}
}

// CommandError is a git invocation that exited unsuccessfully
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	// Stdout and Stderr receive the output of interactive commands (clone, rebase).
	Stdout io.Writer
	Stderr io.Writer
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient() *ShellClient {
	return &ShellClient{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Resolve returns the object id rev points to, or ErrUnknownRevision.
func (c *ShellClient) Resolve(ctx context.Context, dir, rev string) (string, error) {
	out, err := c.output(ctx, dir, nil, "", "rev-parse", "--verify", "--quiet", rev)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 && strings.TrimSpace(cmdErr.Stderr) == "" {
			return "", fmt.Errorf("%w: %s", ErrUnknownRevision, rev)
		}
		return "", err
	}
	return out, nil
}

// AbbrevCommit returns the abbreviated id git prints for rev.
func (c *ShellClient) AbbrevCommit(ctx context.Context, dir, rev string) (string, error) {
	return c.output(ctx, dir, nil, "", "show", "--pretty=%h", "--no-patch", rev)
}

// MergeBase returns the best common ancestor of a and b.
func (c *ShellClient) MergeBase(ctx context.Context, dir, a, b string) (string, error) {
	return c.output(ctx, dir, nil, "", "merge-base", a, b)
}

// CommitTree creates a commit with an empty message.
func (c *ShellClient) CommitTree(ctx context.Context, dir, tree string, parents []string, sig Signature) (string, error) {
	args := []string{"commit-tree", "--no-gpg-sign", tree}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	return c.output(ctx, dir, sig.env(), "", args...)
}

// HashEmptyTree computes the id of the empty tree without writing it.
func (c *ShellClient) HashEmptyTree(ctx context.Context, dir string) (string, error) {
	return c.output(ctx, dir, nil, "", "hash-object", "-t", "tree", "--stdin")
}

// Tag creates a lightweight tag.
func (c *ShellClient) Tag(ctx context.Context, dir, name, rev string) error {
	_, err := c.output(ctx, dir, nil, "", "tag", name, rev)
	return err
}

// RevList lists commit ids, newest first.
func (c *ShellClient) RevList(ctx context.Context, dir string, revs ...string) ([]string, error) {
	out, err := c.output(ctx, dir, nil, "", append([]string{"rev-list"}, revs...)...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitTime returns the committer date of rev in its recorded time zone.
func (c *ShellClient) CommitTime(ctx context.Context, dir, rev string) (time.Time, error) {
	out, err := c.output(ctx, dir, nil, "", "show", "--no-patch", "--date=raw", "--pretty=%cd", rev)
	if err != nil {
		return time.Time{}, err
	}
	return parseRawDate(out)
}

// parseRawDate parses git's "<unix seconds> <+-hhmm>" date format.
func parseRawDate(raw string) (time.Time, error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return time.Time{}, fmt.Errorf("unexpected date %q", raw)
	}
	secs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected date %q: %w", raw, err)
	}
	zone, err := time.Parse("-0700", fields[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected time zone %q: %w", fields[1], err)
	}
	return time.Unix(secs, 0).In(zone.Location()), nil
}

// RebaseInteractive runs an interactive rebase. env carries the editor
// activation that feeds git the todo list.
func (c *ShellClient) RebaseInteractive(ctx context.Context, dir, onto, upstream string, env []string) error {
	return c.interactive(ctx, dir, env, "rebase", "-i", "--onto", onto, upstream)
}

// Clone clones url into parent/name. The pull request merge refs are fetched
// along with the branches, and templateDir (if set) provides the hooks.
func (c *ShellClient) Clone(ctx context.Context, parent, url, name, templateDir string) error {
	var env []string
	if templateDir != "" {
		env = append(env, "GIT_TEMPLATE_DIR="+templateDir)
	}
	return c.interactive(ctx, parent, env, "clone", "-c", "remote.origin.fetch="+PullMergeRefspec, url, name)
}

// ConfigureIdentity writes the global user identity. longPaths enables
// core.longpaths, which Git for Windows needs for deep checkouts.
func (c *ShellClient) ConfigureIdentity(ctx context.Context, name, email string, longPaths bool) error {
	settings := [][2]string{{"user.name", name}, {"user.email", email}}
	if longPaths {
		settings = append(settings, [2]string{"core.longpaths", "true"})
	}
	for _, kv := range settings {
		if _, err := c.output(ctx, "", nil, "", "config", "--global", kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// output runs git and returns its trimmed stdout.
func (c *ShellClient) output(ctx context.Context, dir string, env []string, stdin string, args ...string) (string, error) {
	cmd := command(ctx, dir, env, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(args, err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// interactive runs git with its output passed through.
func (c *ShellClient) interactive(ctx context.Context, dir string, env []string, args ...string) error {
	cmd := command(ctx, dir, env, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = c.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = io.MultiWriter(c.Stderr, &stderr)
	if err := cmd.Run(); err != nil {
		return commandError(args, err, stderr.String())
	}
	return nil
}

func command(ctx context.Context, dir string, env []string, args ...string) *exec.Cmd {
	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Env = append(Environ(os.Environ()), env...)
	return cmd
}

func commandError(args []string, err error, stderr string) error {
	cmdErr := &CommandError{Args: args, ExitCode: -1, Stderr: stderr, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	return cmdErr
}

// repoScoped are the variables git exports to hooks that would redirect a
// nested invocation away from the -C directory.
var repoScoped = []string{"GIT_DIR", "GIT_WORK_TREE", "GIT_INDEX_FILE", "GIT_OBJECT_DIRECTORY", "GIT_PREFIX"}

// Environ filters repository-scoped git variables out of env.
func Environ(env []string) []string {
	out := make([]string, 0, len(env))
outer:
	for _, kv := range env {
		for _, name := range repoScoped {
			if strings.HasPrefix(kv, name+"=") {
				continue outer
			}
		}
		out = append(out, kv)
	}
	return out
}
