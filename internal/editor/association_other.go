//go:build !windows

package editor

import "fmt"

type unsupportedAssociator struct{}

func (unsupportedAssociator) Associate(string) error {
	return fmt.Errorf("%w: file associations are only managed on windows", ErrUnsupportedPlatform)
}

// DefaultAssociator returns an associator that always fails outside Windows.
func DefaultAssociator() Associator {
	return unsupportedAssociator{}
}
