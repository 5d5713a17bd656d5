// Package editor feeds generated text to tools that only take input through
// an interactive editor. The tool is pointed at a substitute editor whose only
// effect is to copy a staging file over the path it is asked to edit.
package editor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrUnsupportedPlatform is returned for platforms without an activation strategy.
	ErrUnsupportedPlatform = errors.New("editor: unsupported platform")
	// ErrNotRegular is returned when the staging path exists but is not a regular file.
	ErrNotRegular = errors.New("editor: staging path is not a regular file")
)

// Tool is a host tool that opens an editor.
type Tool string

const (
	Git Tool = "git"
	GN  Tool = "gn"
)

// ParseTool validates a tool name.
func ParseTool(name string) (Tool, error) {
	switch Tool(name) {
	case Git, GN:
		return Tool(name), nil
	default:
		return "", fmt.Errorf("unknown tool %q (expected git or gn)", name)
	}
}

// EnvVar is the editor variable the tool honours.
func (t Tool) EnvVar() string {
	return strings.ToUpper(string(t)) + "_EDITOR"
}

// Channel describes the editor substitute for one tool on one platform.
type Channel struct {
	Tool Tool
	// Platform is a GOOS value.
	Platform string
	// WorkDir holds the staging file and, for the association strategy, the relay.
	WorkDir string
	// RelayBinary is the relay executable copied into WorkDir when the
	// association strategy is used.
	RelayBinary string
	Associator  Associator
	Logger      *slog.Logger
}

// StagingPath is the fixed location the substitute copies from.
func (c *Channel) StagingPath() string {
	return filepath.Join(c.WorkDir, string(c.Tool)+".txt")
}

// Stage writes content to the staging file. An existing staging file must be
// a regular file and keeps its permission bits.
func (c *Channel) Stage(content []byte) (string, error) {
	path := c.StagingPath()
	info, err := os.Lstat(path)
	switch {
	case err == nil && !info.Mode().IsRegular():
		return "", fmt.Errorf("%w: %s", ErrNotRegular, path)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open staging file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	c.logger().Debug("staged editor input", "tool", c.Tool, "path", path, "bytes", len(content))
	return path, nil
}

// Var is one environment variable of an activation.
type Var struct {
	Name  string
	Value string
}

// Activation tells how the host tool is made to run the substitute.
type Activation struct {
	Env []Var
	// Association is the open command registered for text files, if any.
	Association string
	// FoldCase matches variable names case-insensitively, as Windows does.
	FoldCase bool
}

// Environ returns base with the activation's variables set.
func (a *Activation) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(a.Env))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if !slices.ContainsFunc(a.Env, func(v Var) bool { return a.sameName(v.Name, name) }) {
			out = append(out, kv)
		}
	}
	for _, v := range a.Env {
		out = append(out, v.Name+"="+v.Value)
	}
	return out
}

func (a *Activation) sameName(x, y string) bool {
	if a.FoldCase {
		return strings.EqualFold(x, y)
	}
	return x == y
}

// WriteEnvFile appends the variables in NAME=value form, as read by CI
// runners from their environment file.
func (a *Activation) WriteEnvFile(w io.Writer) error {
	for _, v := range a.Env {
		if _, err := fmt.Fprintf(w, "%s=%s\n", v.Name, v.Value); err != nil {
			return err
		}
	}
	return nil
}

// Install builds the activation for the channel's tool and platform.
//
// On Windows, GN ignores its editor variables and opens the program
// associated with .txt files instead. The relay is registered as that program
// for the current user. This registration outlives the CI job and is not
// reset.
func (c *Channel) Install() (*Activation, error) {
	staging := c.StagingPath()

	switch c.Platform {
	case "linux", "darwin":
		return &Activation{Env: []Var{{Name: c.Tool.EnvVar(), Value: posixCopyCommand(staging)}}}, nil

	case "windows":
		if c.Tool == Git {
			// Git for Windows runs its editor through the MSYS shell.
			cmd, err := msysCopyCommand(staging)
			if err != nil {
				return nil, err
			}
			return &Activation{Env: []Var{{Name: c.Tool.EnvVar(), Value: cmd}}, FoldCase: true}, nil
		}

		cmd, err := cmdCopyCommand(staging)
		if err != nil {
			return nil, err
		}
		act := &Activation{Env: []Var{
			{Name: c.Tool.EnvVar(), Value: cmd},
			{Name: "EDITOR", Value: cmd},
		}, FoldCase: true}
		assoc, err := c.associate()
		if err != nil {
			return nil, err
		}
		act.Association = assoc
		return act, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, c.Platform)
	}
}

// associate copies the relay into WorkDir and registers it as the text file
// handler.
func (c *Channel) associate() (string, error) {
	if c.RelayBinary == "" {
		return "", errors.New("editor: no relay binary configured")
	}
	if c.Associator == nil {
		return "", fmt.Errorf("%w: no file association support", ErrUnsupportedPlatform)
	}
	relay := filepath.Join(c.WorkDir, relayName)
	same, err := sameFile(c.RelayBinary, relay)
	if err != nil {
		return "", fmt.Errorf("failed to install relay: %w", err)
	}
	if !same {
		if err := copyExecutable(c.RelayBinary, relay); err != nil {
			return "", fmt.Errorf("failed to install relay: %w", err)
		}
	}
	command, err := AssociationCommand(relay)
	if err != nil {
		return "", err
	}
	if err := c.Associator.Associate(command); err != nil {
		return "", fmt.Errorf("failed to register relay: %w", err)
	}
	c.logger().Warn("registered relay as the default text editor of the current user; this persists after the job",
		"relay", relay,
		"command", command)
	return command, nil
}

func (c *Channel) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// sameFile reports whether dst already is src. A missing dst is not.
func sameFile(src, dst string) (bool, error) {
	si, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	di, err := os.Stat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(si, di), nil
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
