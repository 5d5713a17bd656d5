// Package templates stages the git template directory used for clones and
// reconciles it onto the workspace.
package templates

import (
	"fmt"
	"os"
	"path/filepath"

	"al.essio.dev/pkg/shellescape"

	"github.com/schaermu/cishim/internal/overlay"
	"github.com/schaermu/cishim/internal/sync"
)

// Dir is the template directory name inside the workspace.
const Dir = "git-templates"

// Pattern scopes synchronization to the template directory.
const Pattern = Dir + "/**"

// Kind selects what the template directory provides.
type Kind int

const (
	// Empty provides no hooks, which disables the defaults git would copy.
	Empty Kind = iota
	// NoOp installs a post-checkout hook that does nothing.
	NoOp
	// Overlay installs a post-checkout hook that creates the overlay tag.
	Overlay
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case NoOp:
		return "noop"
	case Overlay:
		return "overlay"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Hook describes the post-checkout hook.
type Hook struct {
	Kind Kind
	// Binary is the cishim executable the overlay hook runs.
	Binary string
	// ConfigFile is passed on with --config when set.
	ConfigFile string
	Tag        string
	Request    overlay.Request
}

const noOpScript = "#!/bin/sh\nexit 0\n"

// Script renders the hook. It returns "" for Empty.
func (h Hook) Script() (string, error) {
	switch h.Kind {
	case Empty:
		return "", nil
	case NoOp:
		return noOpScript, nil
	case Overlay:
		if h.Binary == "" {
			return "", fmt.Errorf("overlay hook needs the cishim binary")
		}
		args := []string{h.Binary}
		if h.ConfigFile != "" {
			args = append(args, "--config", h.ConfigFile)
		}
		args = append(args, "overlay", "create",
			"--tag", h.Tag,
			"--base", h.Request.Base,
			"--head", h.Request.Head)
		if h.Request.Verify != "" {
			args = append(args, "--verify", h.Request.Verify)
		}
		return "#!/bin/sh\nexec " + shellescape.QuoteCommand(args) + "\n", nil
	}
	return "", fmt.Errorf("unknown hook kind %v", h.Kind)
}

// Materialize writes the template directory for h under stageDir.
func Materialize(stageDir string, h Hook) error {
	script, err := h.Script()
	if err != nil {
		return err
	}

	root := filepath.Join(stageDir, Dir)
	if err := os.Mkdir(root, 0755); err != nil {
		return fmt.Errorf("failed to create template directory: %w", err)
	}
	if h.Kind == Empty {
		return nil
	}

	hooks := filepath.Join(root, "hooks")
	if err := os.Mkdir(hooks, 0755); err != nil {
		return fmt.Errorf("failed to create hooks directory: %w", err)
	}
	path := filepath.Join(hooks, "post-checkout")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return fmt.Errorf("failed to write hook: %w", err)
	}
	// Make sure umask did not strip the execute bits.
	if err := os.Chmod(path, 0755); err != nil {
		return fmt.Errorf("failed to mark hook executable: %w", err)
	}
	return nil
}

// Install stages the template directory for h next to workspace and
// synchronizes it onto <workspace>/git-templates.
func Install(engine *sync.Engine, workspace string, h Hook) (*sync.Report, error) {
	stage, err := os.MkdirTemp(workspace, ".cishim-templates-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(stage)
	}()

	if err := Materialize(stage, h); err != nil {
		return nil, err
	}
	return engine.Sync(stage, workspace, Pattern)
}
