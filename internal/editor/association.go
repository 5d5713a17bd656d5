package editor

import (
	"fmt"
	"strings"
)

// relayName is the file name the relay is installed under in the work directory.
const relayName = "cishim-relay.exe"

// TextFileOpenKey is the per-user registry key holding the open command for .txt files.
const TextFileOpenKey = `Software\Classes\txtfile\shell\open\command`

// Associator registers the open command for text files.
type Associator interface {
	Associate(command string) error
}

// AssociationCommand is the open command that hands the opened file to relay.
func AssociationCommand(relay string) (string, error) {
	relay = strings.ReplaceAll(relay, "/", `\`)
	if strings.ContainsAny(relay, `%"`) {
		return "", fmt.Errorf("%w: %q", ErrUnquotable, relay)
	}
	return fmt.Sprintf(`"%s" "%%1"`, relay), nil
}
