//go:build windows

package editor

import (
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// RegistryAssociator writes the open command under HKEY_CURRENT_USER.
type RegistryAssociator struct{}

// Associate sets the default value of the text file open command.
func (RegistryAssociator) Associate(command string) error {
	key, _, err := registry.CreateKey(registry.CURRENT_USER, TextFileOpenKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open HKCU\\%s: %w", TextFileOpenKey, err)
	}
	defer func() {
		_ = key.Close()
	}()

	if err := key.SetExpandStringValue("", command); err != nil {
		return fmt.Errorf("failed to set HKCU\\%s: %w", TextFileOpenKey, err)
	}
	return nil
}

// DefaultAssociator returns the registry based associator.
func DefaultAssociator() Associator {
	return RegistryAssociator{}
}
