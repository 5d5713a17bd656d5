package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/schaermu/cishim/internal/config"
	"github.com/schaermu/cishim/internal/event"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cishim",
	Short: "Build steps for pull request CI of depot_tools based projects",
	Long: `cishim prepares a pull request checkout for building on a CI runner.

It clones the repository with a post-checkout hook that records the pull
request as an overlay tag, rebases the pull request onto the current base
branch as a single commit, and drives gn and gclient from depot_tools.

Tools that only accept input through an editor (git rebase -i, gn args) are
fed through a substitute editor that copies a staged file into place.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "cishim %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, CI environment variables are always applied)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format (text, json, auto)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(overlayCmd)
	rootCmd.AddCommand(rebaseCmd)
	rootCmd.AddCommand(editorCmd)
	rootCmd.AddCommand(gnArgsCmd)
	rootCmd.AddCommand(gclientSyncCmd)
	rootCmd.AddCommand(updateDepotToolsCmd)
	rootCmd.AddCommand(installBuildDepsCmd)
	rootCmd.AddCommand(gitIdentityCmd)
}

func setupLogger() *slog.Logger {
	return newLogger(os.Stderr, isTerminal(os.Stderr))
}

// newLogger writes to w. Standard output is left to command results.
func newLogger(w io.Writer, tty bool) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	format := logFormat
	if format == "auto" || format == "" {
		format = "json"
		if tty {
			format = "text"
		}
	}
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if cfgFile != "" {
		logger.Info("loading configuration", "path", cfgFile)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"workspace", cfg.Workspace,
		"repository", cfg.Repository,
		"event", cfg.Event.Name,
		"build_config", cfg.BuildConfig,
		"tag", cfg.Overlay.Tag)

	return cfg, nil
}

// runEnv bundles what every step needs.
type runEnv struct {
	ctx    context.Context
	logger *slog.Logger
	cfg    *config.Config
	pr     *event.PullRequest
}

// setup loads the configuration and the triggering event. The returned
// cancel func must be called when the step is done.
func setup() (*runEnv, context.CancelFunc, error) {
	ctx, cancel := setupSignalHandler()
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	pr, err := cfg.PullRequest()
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if pr != nil {
		logger.Debug("pull request event", "number", pr.Number, "head", pr.Head.SHA, "base", pr.Base.SHA)
	}
	return &runEnv{ctx: ctx, logger: logger, cfg: cfg, pr: pr}, cancel, nil
}

// subWorkDir returns the per pull request directory, creating it.
func (e *runEnv) subWorkDir() (string, error) {
	dir := e.cfg.SubWorkDir(e.pr)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	return dir, nil
}

// configPath is the absolute --config path handed to hooks, which run in a
// different directory.
func configPath() (string, error) {
	if cfgFile == "" {
		return "", nil
	}
	return filepath.Abs(cfgFile)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
