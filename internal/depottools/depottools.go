// Package depottools runs the Chromium depot_tools commands a build needs.
package depottools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/schaermu/cishim/internal/editor"
)

// ErrUnsupportedPlatform is returned for steps that do not run on the host platform
var ErrUnsupportedPlatform = errors.New("depottools: unsupported platform")

// DepotTools provides the depot_tools operations used by the build steps
type DepotTools interface {
	// GNArgs runs "gn args out" in the checkout with the editor channel active
	GNArgs(ctx context.Context, checkout string, act *editor.Activation) error
	// GClientSync fetches the dependencies of the checkout
	GClientSync(ctx context.Context, checkout string) error
	// Update updates depot_tools itself
	Update(ctx context.Context) error
	// InstallBuildDeps installs the system packages the checkout needs
	InstallBuildDeps(ctx context.Context, checkout string) error
}

// Client implements DepotTools by running the scripts of a depot_tools checkout
type Client struct {
	Dir      string
	Platform string
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Logger   *slog.Logger

	euid func() int
}

// NewClient creates a client for the depot_tools checkout at dir
func NewClient(dir string, logger *slog.Logger) *Client {
	return &Client{
		Dir:      dir,
		Platform: runtime.GOOS,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Logger:   logger,
		euid:     os.Geteuid,
	}
}

func (c *Client) windows() bool {
	return c.Platform == "windows"
}

// Env returns base with depot_tools on the search path and its telemetry
// disabled. Automatic updates stay enabled only for selfUpdate.
func (c *Client) Env(base []string, selfUpdate bool) []string {
	env := append([]string(nil), base...)

	pathKey, sep := "PATH", ":"
	if c.windows() {
		pathKey, sep = "Path", ";"
	}
	path, _ := lookup(env, pathKey, c.windows())
	switch {
	case path == "":
		path = c.Dir
	case c.windows():
		path = c.Dir + sep + path
	default:
		path = path + sep + c.Dir
	}
	env = setenv(env, pathKey, path, c.windows())

	env = setenv(env, "DEPOT_TOOLS_METRICS", "0", c.windows())
	if !selfUpdate {
		env = setenv(env, "DEPOT_TOOLS_UPDATE", "0", c.windows())
	}
	if c.windows() {
		env = setenv(env, "DEPOT_TOOLS_WIN_TOOLCHAIN", "0", true)
		env = setenv(env, "GYP_MSVS_VERSION", "2019", true)
	}
	return env
}

// GNArgs runs "gn args out" in checkout. GN launches the editor named by the
// activation, which copies the staged arguments into out/args.gn.
func (c *Client) GNArgs(ctx context.Context, checkout string, act *editor.Activation) error {
	if act == nil {
		return fmt.Errorf("gn args needs an editor activation")
	}
	env := act.Environ(c.Env(os.Environ(), false))
	return c.run(ctx, checkout, env, c.script("gn"), "args", "out")
}

// GClientSync runs "gclient sync" in checkout
func (c *Client) GClientSync(ctx context.Context, checkout string) error {
	return c.run(ctx, checkout, c.Env(os.Environ(), false), c.script("gclient"), "sync")
}

// Update runs update_depot_tools inside the depot_tools checkout
func (c *Client) Update(ctx context.Context) error {
	return c.run(ctx, c.Dir, c.Env(os.Environ(), true), c.script("update_depot_tools"))
}

// InstallBuildDeps runs build/install-build-deps.sh of the checkout, through
// sudo unless already root. Only Linux is supported.
func (c *Client) InstallBuildDeps(ctx context.Context, checkout string) error {
	if c.Platform != "linux" {
		return fmt.Errorf("%w: install-build-deps on %s", ErrUnsupportedPlatform, c.Platform)
	}
	args := []string{"sh", "-c", "$(realpath install-build-deps.sh) --no-syms --no-chromeos-fonts"}
	if c.euid() != 0 {
		args = append([]string{"sudo"}, args...)
	}
	return c.run(ctx, filepath.Join(checkout, "build"), os.Environ(), args[0], args[1:]...)
}

// script returns the path of a depot_tools entry point. The batch wrappers
// are used on Windows.
func (c *Client) script(name string) string {
	if c.windows() {
		name += ".bat"
	}
	return filepath.Join(c.Dir, name)
}

func (c *Client) run(ctx context.Context, dir string, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	c.logger().Info("running depot_tools command", "command", filepath.Base(name), "args", args, "dir", dir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s failed: %w", filepath.Base(name), strings.Join(args, " "), err)
	}
	return nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// lookup finds name in env. Windows variable names are case-insensitive.
func lookup(env []string, name string, fold bool) (string, bool) {
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if k == name || (fold && strings.EqualFold(k, name)) {
			return v, true
		}
	}
	return "", false
}

// setenv replaces every definition of name in env with name=value.
func setenv(env []string, name, value string, fold bool) []string {
	out := env[:0]
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if k == name || (fold && strings.EqualFold(k, name)) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, name+"="+value)
}
