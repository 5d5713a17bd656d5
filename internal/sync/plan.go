package sync

import (
	"github.com/schaermu/cishim/internal/pathset"
)

// Op is the reconciliation applied to one relative path.
type Op int

const (
	// Keep leaves a matching directory in place.
	Keep Op = iota
	// Create materializes a source-only entry.
	Create
	// Delete removes a destination-only entry.
	Delete
	// Overwrite recopies a matching file or replaces an entry of another kind.
	Overwrite
)

func (o Op) String() string {
	switch o {
	case Keep:
		return "keep"
	case Create:
		return "create"
	case Delete:
		return "delete"
	case Overwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// Action records one operation in the order it was applied
type Action struct {
	Op    Op
	Entry pathset.Entry
}

// Report summarizes a sync run
type Report struct {
	Actions []Action
}

func (r *Report) record(op Op, entry pathset.Entry) {
	r.Actions = append(r.Actions, Action{Op: op, Entry: entry})
}

// Count returns how many actions of the given kind were applied
func (r *Report) Count(op Op) int {
	n := 0
	for _, a := range r.Actions {
		if a.Op == op {
			n++
		}
	}
	return n
}

// Structural reports whether the run created or deleted anything
func (r *Report) Structural() bool {
	return r.Count(Create) > 0 || r.Count(Delete) > 0
}
