package overlay

import (
	"context"
	"fmt"

	"github.com/schaermu/cishim/internal/editor"
)

// Todo derives the interactive rebase instructions from the tag: pick the
// squash commit, then reword it with the message of the oldest pull request
// commit. The result is empty when the head is already part of the base.
//
// The merge base is recomputed from the tag's first two parents instead of
// being read from the squash commit, so a base branch that moved on since the
// tag was created is handled.
func (c *Constructor) Todo(ctx context.Context) (string, error) {
	base, head, squash := c.ref()+"^1", c.ref()+"^2", c.ref()+"^3"

	mergeBase, err := c.git.MergeBase(ctx, c.dir, base, head)
	if err != nil {
		return "", fmt.Errorf("failed to compute merge base: %w", err)
	}
	commits, err := c.git.RevList(ctx, c.dir, "^"+mergeBase, head)
	if err != nil {
		return "", fmt.Errorf("failed to list pull request commits: %w", err)
	}
	if len(commits) == 0 {
		return "", nil
	}

	squashID, err := c.git.Resolve(ctx, c.dir, squash)
	if err != nil {
		return "", fmt.Errorf("failed to resolve squash commit: %w", err)
	}
	oldest := commits[len(commits)-1]
	return fmt.Sprintf("pick %s\nexec git show --pretty=%%B --no-patch %s | git commit --amend --file=-\n", squashID, oldest), nil
}

// Rebase replays the checked out pull request as a single commit on top of
// the base branch head. The instructions reach git through the editor
// channel; act must be the channel's activation.
func (c *Constructor) Rebase(ctx context.Context, ch *editor.Channel, act *editor.Activation) error {
	todo, err := c.Todo(ctx)
	if err != nil {
		return err
	}
	if _, err := ch.Stage([]byte(todo)); err != nil {
		return err
	}
	if todo == "" {
		// git rebase aborts on an empty todo list.
		c.logger.Info("pull request head is already merged, nothing to rebase", "tag", c.tag)
		return nil
	}

	base := c.ref() + "^1"
	c.logger.Info("rebasing onto base branch head", "tag", c.tag, "onto", base)
	if err := c.git.RebaseInteractive(ctx, c.dir, base, base, act.Environ(nil)); err != nil {
		return fmt.Errorf("interactive rebase failed: %w", err)
	}
	return nil
}
