package editor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Relay is the program registered through the association strategy. It runs
// the editor named by EDITOR on the files it is given. Under cishim, EDITOR
// holds the copy command, so opening a file overwrites it with the staging
// file.
type Relay struct {
	Getenv func(string) string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewRelay returns a relay bound to the process environment and stdio.
func NewRelay() *Relay {
	return &Relay{
		Getenv: os.Getenv,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Editor returns the editor command line, falling back to the platform default.
func (r *Relay) Editor() string {
	if editor := strings.TrimSpace(r.Getenv("EDITOR")); editor != "" {
		return editor
	}
	return defaultEditor
}

// Run executes the editor with args appended and waits for it.
func (r *Relay) Run(ctx context.Context, args []string) error {
	editor := r.Editor()
	cmd := editorCommand(ctx, editor, args, r.Getenv)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor %q failed: %w", editor, err)
	}
	return nil
}
