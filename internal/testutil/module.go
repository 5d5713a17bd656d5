package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Commands are the main packages built into the cishim binaries.
var Commands = []string{"cishim", "cishim-relay"}

// ModuleRoot returns the directory holding the module's go.mod.
func ModuleRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("testutil: source location unknown")
	}
	for dir := filepath.Dir(file); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("testutil: no go.mod above %s", file)
		}
		dir = parent
	}
}

// CommandDirs maps each of Commands to its package directory.
func CommandDirs() (map[string]string, error) {
	root, err := ModuleRoot()
	if err != nil {
		return nil, err
	}
	dirs := make(map[string]string, len(Commands))
	for _, name := range Commands {
		dir := filepath.Join(root, "cmd", name)
		if _, err := os.Stat(filepath.Join(dir, "main.go")); err != nil {
			return nil, fmt.Errorf("testutil: command %s: %w", name, err)
		}
		dirs[name] = dir
	}
	return dirs, nil
}
