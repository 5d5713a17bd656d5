// Package overlay builds and reads back the overlay tag: a synthetic merge
// commit whose parents are, in order, the base branch head, the pull request
// head and a squash of the pull request onto its merge base.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/schaermu/cishim/internal/git"
)

var (
	// ErrHeadMismatch is returned when the pull request head does not match the expected id.
	ErrHeadMismatch = errors.New("overlay: head does not match expected commit")
	// ErrMalformedOverlay is returned when the tag does not point at a well-formed overlay.
	ErrMalformedOverlay = errors.New("overlay: malformed overlay commit")
	// ErrNoOverlay is returned when the tag does not exist.
	ErrNoOverlay = errors.New("overlay: tag not found")
)

var hexRE = regexp.MustCompile(`^[0-9a-f]+$`)

// Identity is the author and committer recorded on overlay commits.
type Identity struct {
	Name  string
	Email string
}

// Request names the commits an overlay is built from.
type Request struct {
	// Base is the base branch head.
	Base string
	// Head is the pull request head.
	Head string
	// Verify, if set, is the full or abbreviated id Head was expected to be
	// derived from. It must name a commit exactly as given.
	Verify string
}

// Result describes the overlay tag after Create.
type Result struct {
	Commit  string
	Created bool
}

// Overlay is the decoded shape of an overlay commit.
type Overlay struct {
	Commit    string
	Base      string
	Head      string
	Squash    string
	MergeBase string
}

// Constructor creates and consumes the overlay tag of one repository.
type Constructor struct {
	git      git.Client
	dir      string
	tag      string
	identity Identity
	logger   *slog.Logger
}

// NewConstructor creates a constructor for the repository at dir.
func NewConstructor(client git.Client, dir, tag string, identity Identity, logger *slog.Logger) *Constructor {
	return &Constructor{
		git:      client,
		dir:      dir,
		tag:      tag,
		identity: identity,
		logger:   logger,
	}
}

func (c *Constructor) ref() string {
	return "refs/tags/" + c.tag
}

// Create builds the overlay commit and tags it. An existing tag is left as
// it is and nothing is written.
//
// The squash and overlay commits carry the configured identity and the
// committer date of the head, so the same inputs produce the same object ids
// in every clone.
func (c *Constructor) Create(ctx context.Context, req Request) (*Result, error) {
	existing, err := c.git.Resolve(ctx, c.dir, c.ref())
	if err == nil {
		c.logger.Info("overlay tag already exists", "tag", c.tag, "commit", existing)
		return &Result{Commit: existing}, nil
	}
	if !errors.Is(err, git.ErrUnknownRevision) {
		return nil, fmt.Errorf("failed to look up tag %s: %w", c.tag, err)
	}

	if req.Verify != "" {
		if err := c.verify(ctx, req.Verify); err != nil {
			return nil, err
		}
	}

	base, err := c.commit(ctx, req.Base)
	if err != nil {
		return nil, err
	}
	head, err := c.commit(ctx, req.Head)
	if err != nil {
		return nil, err
	}

	mergeBase, err := c.git.MergeBase(ctx, c.dir, base, head)
	if err != nil {
		return nil, fmt.Errorf("failed to compute merge base: %w", err)
	}
	when, err := c.git.CommitTime(ctx, c.dir, head)
	if err != nil {
		return nil, fmt.Errorf("failed to read head date: %w", err)
	}
	sig := git.Signature{Name: c.identity.Name, Email: c.identity.Email, When: when}

	squash, err := c.git.CommitTree(ctx, c.dir, head+"^{tree}", []string{mergeBase}, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to create squash commit: %w", err)
	}
	// git knows the empty tree without it being in the object store.
	emptyTree, err := c.git.HashEmptyTree(ctx, c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to hash empty tree: %w", err)
	}
	commit, err := c.git.CommitTree(ctx, c.dir, emptyTree, []string{base, head, squash}, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay commit: %w", err)
	}
	if err := c.git.Tag(ctx, c.dir, c.tag, commit); err != nil {
		return nil, fmt.Errorf("failed to tag overlay commit: %w", err)
	}

	c.logger.Info("created overlay tag",
		"tag", c.tag,
		"commit", commit,
		"base", base,
		"head", head,
		"squash", squash,
		"merge_base", mergeBase)
	return &Result{Commit: commit, Created: true}, nil
}

// verify checks that id names a commit exactly, either as its full id or as
// the abbreviation git itself prints.
func (c *Constructor) verify(ctx context.Context, id string) error {
	if !hexRE.MatchString(id) {
		return fmt.Errorf("%w: %q is not a hex commit id", ErrHeadMismatch, id)
	}
	full, err := c.git.Resolve(ctx, c.dir, id+"^{commit}")
	if errors.Is(err, git.ErrUnknownRevision) {
		return fmt.Errorf("%w: %s does not name a commit", ErrHeadMismatch, id)
	}
	if err != nil {
		return err
	}
	if full == id {
		return nil
	}
	abbrev, err := c.git.AbbrevCommit(ctx, c.dir, id)
	if err != nil {
		return err
	}
	if abbrev != id {
		return fmt.Errorf("%w: %s resolves to %s", ErrHeadMismatch, id, full)
	}
	return nil
}

func (c *Constructor) commit(ctx context.Context, rev string) (string, error) {
	id, err := c.git.Resolve(ctx, c.dir, rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	return id, nil
}

// Inspect reads the tag and checks the overlay shape: three parents, the last
// of which is a single-parent squash commit.
func (c *Constructor) Inspect() (*Overlay, error) {
	repo, err := gogit.PlainOpenWithOptions(c.dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	ref, err := repo.Tag(c.tag)
	if errors.Is(err, gogit.ErrTagNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoOverlay, c.tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tag %s: %w", c.tag, err)
	}

	commit, err := repo.CommitObject(ref.Hash())
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s does not point at a commit", ErrMalformedOverlay, c.tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overlay commit: %w", err)
	}
	if commit.NumParents() != 3 {
		return nil, fmt.Errorf("%w: %s has %d parents, want 3", ErrMalformedOverlay, commit.Hash, commit.NumParents())
	}

	squash, err := repo.CommitObject(commit.ParentHashes[2])
	if err != nil {
		return nil, fmt.Errorf("failed to read squash commit: %w", err)
	}
	if squash.NumParents() != 1 {
		return nil, fmt.Errorf("%w: squash %s has %d parents, want 1", ErrMalformedOverlay, squash.Hash, squash.NumParents())
	}

	return &Overlay{
		Commit:    commit.Hash.String(),
		Base:      commit.ParentHashes[0].String(),
		Head:      commit.ParentHashes[1].String(),
		Squash:    squash.Hash.String(),
		MergeBase: squash.ParentHashes[0].String(),
	}, nil
}
