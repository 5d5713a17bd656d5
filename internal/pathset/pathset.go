// Package pathset enumerates the filesystem entries under a root directory in
// canonical path order.
//
// The canonical order compares relative paths segment by segment, which is the
// same as comparing the "/"-rendered paths with the separator sorting below
// every other byte. Under this order the contents of a directory always follow
// the directory itself immediately, before any of its later siblings.
package pathset

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrOrder marks a listing that is not strictly increasing in canonical order.
	ErrOrder = errors.New("pathset: entries out of canonical order")
	// ErrDetached marks a listed entry whose parent directory was not listed.
	ErrDetached = errors.New("pathset: entry without listed parent")
	// ErrUnsupportedType marks nodes that are neither regular files nor directories.
	ErrUnsupportedType = errors.New("pathset: unsupported file type")
	// ErrBadPattern marks an invalid doublestar pattern.
	ErrBadPattern = errors.New("pathset: invalid pattern")
)

// Kind is the type of a filesystem node.
type Kind int

const (
	File Kind = iota
	Dir
)

func (k Kind) String() string {
	if k == Dir {
		return "dir"
	}
	return "file"
}

// Entry is one filesystem node relative to a listing root.
type Entry struct {
	Segments []string
	Kind     Kind
	Perm     fs.FileMode
}

// Rel renders the relative path with "/" separators.
func (e Entry) Rel() string {
	return strings.Join(e.Segments, "/")
}

// Path returns the absolute location of the entry below root.
func (e Entry) Path(root string) string {
	return filepath.Join(append([]string{root}, e.Segments...)...)
}

// Contains reports whether o lies strictly below e.
func (e Entry) Contains(o Entry) bool {
	return len(o.Segments) > len(e.Segments) && slices.Equal(e.Segments, o.Segments[:len(e.Segments)])
}

// Compare orders two entries canonically.
func Compare(a, b Entry) int {
	return slices.Compare(a.Segments, b.Segments)
}

// Base returns the static directory prefix of pattern that a listing walks.
func Base(pattern string) string {
	base, _ := doublestar.SplitPattern(pattern)
	return base
}

// Anchor returns the deepest directory of pattern that lies outside the
// pattern's own scope, as a "/"-separated path ("." for the root). Entries
// matched by pattern always live below the anchor.
func Anchor(pattern string) string {
	base := Base(pattern)
	if base == "." {
		return base
	}
	if ok, _ := doublestar.Match(pattern, base); ok {
		return path.Dir(base)
	}
	return base
}

// List lazily enumerates the entries under root whose root-relative path
// matches pattern, in canonical order. A missing walk base yields an empty
// sequence. The first error ends the sequence.
func List(root, pattern string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if err := validatePattern(pattern); err != nil {
			yield(Entry{}, err)
			return
		}

		start := filepath.Join(root, filepath.FromSlash(Base(pattern)))
		if _, err := os.Lstat(start); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield(Entry{}, err)
			return
		}

		// Directories whose children may be listed: the anchor and its ancestors
		// are implied, everything else must have been listed itself.
		listed := map[string]bool{".": true}
		for dir := Anchor(pattern); dir != "."; dir = path.Dir(dir) {
			listed[dir] = true
		}

		var prev []string
		stopped := false
		err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			entry, err := newEntry(rel, d)
			if err != nil {
				return err
			}
			if prev != nil && slices.Compare(prev, entry.Segments) >= 0 {
				return fmt.Errorf("%w: %q after %q", ErrOrder, rel, strings.Join(prev, "/"))
			}
			if !listed[path.Dir(rel)] {
				return fmt.Errorf("%w: %q", ErrDetached, rel)
			}
			if entry.Kind == Dir {
				listed[rel] = true
			}
			prev = entry.Segments

			if !yield(entry, nil) {
				stopped = true
				return fs.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(Entry{}, err)
		}
	}
}

// validatePattern accepts root-relative doublestar patterns only.
func validatePattern(pattern string) error {
	if !doublestar.ValidatePattern(pattern) || path.IsAbs(pattern) {
		return fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	for _, seg := range strings.Split(pattern, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q escapes the root", ErrBadPattern, pattern)
		}
	}
	return nil
}

func newEntry(rel string, d fs.DirEntry) (Entry, error) {
	info, err := d.Info()
	if err != nil {
		return Entry{}, err
	}
	var kind Kind
	switch {
	case info.Mode().IsRegular():
		kind = File
	case info.IsDir():
		kind = Dir
	default:
		return Entry{}, fmt.Errorf("%w: %q is %v", ErrUnsupportedType, rel, info.Mode().Type())
	}
	return Entry{
		Segments: strings.Split(rel, "/"),
		Kind:     kind,
		Perm:     info.Mode().Perm(),
	}, nil
}

// Collect drains a listing into a slice.
func Collect(seq iter.Seq2[Entry, error]) ([]Entry, error) {
	var entries []Entry
	for entry, err := range seq {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
