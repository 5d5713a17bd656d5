// Package sync reconciles a freshly materialized "golden" tree onto a possibly
// stale destination tree with a merge-join over two canonically ordered
// listings.
package sync

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/schaermu/cishim/internal/pathset"
)

var (
	// ErrPermMismatch marks a destination whose permission bits differ from the source after reconciliation.
	ErrPermMismatch = errors.New("permission bits mismatch")
	// ErrOverlap marks source and destination roots that contain each other.
	ErrOverlap = errors.New("source and destination overlap")
)

// Engine applies the merge-join between a source and a destination tree
type Engine struct {
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new sync engine
func NewEngine(logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		logger: logger,
		dryRun: dryRun,
	}
}

// Sync makes the part of dstRoot selected by pattern identical to the same
// part of srcRoot, including permission bits. Entries outside pattern are
// left alone. Any filesystem error aborts the run; re-running repairs a
// partially synced destination.
func (e *Engine) Sync(srcRoot, dstRoot, pattern string) (*Report, error) {
	if err := checkDisjoint(srcRoot, dstRoot, pattern); err != nil {
		return nil, err
	}

	e.logger.Info("syncing tree",
		"source", srcRoot,
		"dest", dstRoot,
		"pattern", pattern,
		"dry_run", e.dryRun)

	// The anchor is outside the synced scope, so it is only ever created.
	if !e.dryRun {
		anchor := filepath.Join(dstRoot, filepath.FromSlash(pathset.Anchor(pattern)))
		if err := os.MkdirAll(anchor, 0755); err != nil {
			return nil, fmt.Errorf("failed to create destination directory: %w", err)
		}
	}

	src, err := newCursor(pathset.List(srcRoot, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list source: %w", err)
	}
	defer src.stop()
	dst, err := newCursor(pathset.List(dstRoot, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list destination: %w", err)
	}
	defer dst.stop()

	// The destination is mutated while it is still being listed. Every
	// mutation targets a path at or before the destination head, whose parent
	// directory has already been read by the lister, so the listing never
	// observes the changes.
	report := &Report{}
	for src.ok || dst.ok {
		switch mergeStep(src, dst, pathset.Compare) {
		case both:
			err = e.reconcile(report, srcRoot, dstRoot, src, dst)
		case leftOnly:
			err = e.create(report, srcRoot, dstRoot, src)
		case rightOnly:
			err = e.prune(report, dstRoot, dst)
		}
		if err != nil {
			return report, err
		}
	}

	e.logger.Info("tree synced",
		"created", report.Count(Create),
		"overwritten", report.Count(Overwrite),
		"deleted", report.Count(Delete),
		"kept", report.Count(Keep))
	return report, nil
}

// reconcile handles a path present on both sides.
func (e *Engine) reconcile(report *Report, srcRoot, dstRoot string, src, dst *cursor[pathset.Entry]) error {
	s, d := src.head, dst.head
	target := s.Path(dstRoot)

	switch {
	case s.Kind == pathset.File && d.Kind == pathset.File:
		e.logAction(Overwrite, s)
		report.record(Overwrite, s)
		if !e.dryRun {
			if err := copyFile(s.Path(srcRoot), target, s.Perm); err != nil {
				return fmt.Errorf("failed to overwrite %s: %w", target, err)
			}
		}
		if err := dst.advance(); err != nil {
			return fmt.Errorf("failed to list destination: %w", err)
		}

	case s.Kind == pathset.Dir && d.Kind == pathset.Dir:
		e.logger.Debug("keeping directory", "path", s.Rel())
		report.record(Keep, s)
		if !e.dryRun && d.Perm != s.Perm {
			if err := os.Chmod(target, s.Perm); err != nil {
				return fmt.Errorf("failed to chmod %s: %w", target, err)
			}
		}
		if err := dst.advance(); err != nil {
			return fmt.Errorf("failed to list destination: %w", err)
		}

	default:
		// Kinds differ: drop the destination node (and its subtree) first.
		e.logAction(Overwrite, s)
		report.record(Overwrite, s)
		stale, err := dst.takeWhile(d.Contains)
		if err != nil {
			return fmt.Errorf("failed to list destination: %w", err)
		}
		if !e.dryRun {
			if err := removeDeepestFirst(dstRoot, stale); err != nil {
				return err
			}
			if err := materialize(s, srcRoot, dstRoot); err != nil {
				return err
			}
		}
	}

	if !e.dryRun {
		if err := verifyPerm(target, s.Perm); err != nil {
			return err
		}
	}
	if err := src.advance(); err != nil {
		return fmt.Errorf("failed to list source: %w", err)
	}
	return nil
}

// create handles a source-only path.
func (e *Engine) create(report *Report, srcRoot, dstRoot string, src *cursor[pathset.Entry]) error {
	s := src.head
	e.logAction(Create, s)
	report.record(Create, s)
	if !e.dryRun {
		if err := materialize(s, srcRoot, dstRoot); err != nil {
			return err
		}
		if err := verifyPerm(s.Path(dstRoot), s.Perm); err != nil {
			return err
		}
	}
	if err := src.advance(); err != nil {
		return fmt.Errorf("failed to list source: %w", err)
	}
	return nil
}

// prune handles a destination-only path together with everything below it.
// Directory contents directly follow the directory in canonical order, so the
// subtree is the run of entries prefixed by the head.
func (e *Engine) prune(report *Report, dstRoot string, dst *cursor[pathset.Entry]) error {
	orphan := dst.head
	stale, err := dst.takeWhile(orphan.Contains)
	if err != nil {
		return fmt.Errorf("failed to list destination: %w", err)
	}
	for i := len(stale) - 1; i >= 0; i-- {
		e.logAction(Delete, stale[i])
		report.record(Delete, stale[i])
	}
	if e.dryRun {
		return nil
	}
	return removeDeepestFirst(dstRoot, stale)
}

// removeDeepestFirst removes a canonically ordered subtree in reverse order,
// so files and subdirectories go before their parent.
func removeDeepestFirst(root string, entries []pathset.Entry) error {
	for i := len(entries) - 1; i >= 0; i-- {
		p := entries[i].Path(root)
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

// materialize creates the destination counterpart of a source entry.
func materialize(s pathset.Entry, srcRoot, dstRoot string) error {
	target := s.Path(dstRoot)
	if s.Kind == pathset.Dir {
		if err := os.Mkdir(target, s.Perm); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", target, err)
		}
		// Mkdir is subject to the umask.
		if err := os.Chmod(target, s.Perm); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", target, err)
		}
		return nil
	}
	if err := copyFile(s.Path(srcRoot), target, s.Perm); err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}
	return nil
}

// copyFile copies a file from src to dst with atomic write
func copyFile(src, dst string, perm fs.FileMode) error {
	// Open source
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".cishim-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	// Copy content
	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Set permissions on temp file
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, dst)
}

// verifyPerm asserts the destination carries the source's permission bits.
// Windows has no POSIX permission bits to compare.
func verifyPerm(path string, want fs.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if got := info.Mode().Perm(); got != want {
		return fmt.Errorf("%w: %s has %v, want %v", ErrPermMismatch, path, got, want)
	}
	return nil
}

// checkDisjoint rejects scoped subtrees that are equal or nested: the
// destination must not change while the source is being listed. The roots
// themselves may nest, e.g. a staging directory inside the workspace.
func checkDisjoint(srcRoot, dstRoot, pattern string) error {
	base := filepath.FromSlash(pathset.Base(pattern))
	src, err := filepath.Abs(filepath.Join(srcRoot, base))
	if err != nil {
		return err
	}
	dst, err := filepath.Abs(filepath.Join(dstRoot, base))
	if err != nil {
		return err
	}
	if within(src, dst) || within(dst, src) {
		return fmt.Errorf("%w: %s and %s", ErrOverlap, src, dst)
	}
	return nil
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (e *Engine) logAction(op Op, entry pathset.Entry) {
	if e.dryRun {
		e.logger.Info("[dry-run] would "+op.String(), "path", entry.Rel(), "kind", entry.Kind)
		return
	}
	e.logger.Info(op.String(), "path", entry.Rel(), "kind", entry.Kind)
}
