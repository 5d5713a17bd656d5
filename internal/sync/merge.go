package sync

import "iter"

// cursor holds the head of a lazily produced, already sorted sequence.
type cursor[T any] struct {
	next func() (T, error, bool)
	stop func()
	head T
	ok   bool
}

func newCursor[T any](seq iter.Seq2[T, error]) (*cursor[T], error) {
	next, stop := iter.Pull2(seq)
	c := &cursor[T]{next: next, stop: stop}
	if err := c.advance(); err != nil {
		c.stop()
		return nil, err
	}
	return c, nil
}

// advance moves to the next element; ok turns false once the sequence is exhausted.
func (c *cursor[T]) advance() error {
	v, err, ok := c.next()
	if err != nil {
		c.ok = false
		return err
	}
	c.head, c.ok = v, ok
	return nil
}

// takeWhile consumes the head and every following element for which in
// reports true.
func (c *cursor[T]) takeWhile(in func(T) bool) ([]T, error) {
	taken := []T{c.head}
	if err := c.advance(); err != nil {
		return nil, err
	}
	for c.ok && in(c.head) {
		taken = append(taken, c.head)
		if err := c.advance(); err != nil {
			return nil, err
		}
	}
	return taken, nil
}

// side tells which of the two cursors of a merge holds the smaller head.
type side int

const (
	both side = iota
	leftOnly
	rightOnly
)

// mergeStep compares the heads of two cursors. The caller must advance at
// least one of them before calling again.
func mergeStep[T any](left, right *cursor[T], compare func(a, b T) int) side {
	switch {
	case left.ok && right.ok:
		c := compare(left.head, right.head)
		if c == 0 {
			return both
		}
		if c < 0 {
			return leftOnly
		}
		return rightOnly
	case left.ok:
		return leftOnly
	default:
		return rightOnly
	}
}
