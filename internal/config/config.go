package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/cishim/internal/buildconfig"
	"github.com/schaermu/cishim/internal/event"
)

// DefaultTag is the overlay tag name used by the CI workflows.
const DefaultTag = "GITHUB_SHA"

var tagRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Config represents the complete cishim configuration
type Config struct {
	Workspace   string           `yaml:"workspace"`
	Repository  string           `yaml:"repository"`
	URL         string           `yaml:"url"`
	Checkout    string           `yaml:"checkout"`
	Event       EventConfig      `yaml:"event"`
	SHA         string           `yaml:"sha"`
	BuildConfig string           `yaml:"build_config"`
	Overlay     OverlayConfig    `yaml:"overlay"`
	Editor      EditorConfig     `yaml:"editor"`
	Git         GitConfig        `yaml:"git"`
	DepotTools  DepotToolsConfig `yaml:"depot_tools"`
}

// EventConfig names the workflow event and its payload file
type EventConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// OverlayConfig configures the overlay tag
type OverlayConfig struct {
	Tag      string   `yaml:"tag"`
	Identity Identity `yaml:"identity"`
}

// EditorConfig configures the editor channel
type EditorConfig struct {
	// RelayBinary is installed as the text file handler on Windows.
	RelayBinary string `yaml:"relay_binary"`
	// EnvFile receives the editor variables for later workflow steps.
	EnvFile string `yaml:"env_file"`
}

// GitConfig configures the global git identity of the runner
type GitConfig struct {
	Identity Identity `yaml:"identity"`
}

// DepotToolsConfig locates depot_tools
type DepotToolsConfig struct {
	Dir string `yaml:"dir"`
}

// Identity is a git author identity
type Identity struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Load reads the configuration file at path, if any, and layers the CI
// environment and defaults on top of it.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		// Expand environment variables in path
		path = os.ExpandEnv(path)

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.expandEnv()
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path fields
func (c *Config) expandEnv() {
	c.Workspace = os.ExpandEnv(c.Workspace)
	c.Event.Path = os.ExpandEnv(c.Event.Path)
	c.Editor.RelayBinary = os.ExpandEnv(c.Editor.RelayBinary)
	c.Editor.EnvFile = os.ExpandEnv(c.Editor.EnvFile)
	c.DepotTools.Dir = os.ExpandEnv(c.DepotTools.Dir)
}

// applyEnv overrides fields from the variables the CI runner exports.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, names ...string) {
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.Workspace, "WORKSPACE_OVERRIDE", "GITHUB_WORKSPACE")
	set(&c.Repository, "GITHUB_REPOSITORY")
	set(&c.Event.Name, "GITHUB_EVENT_NAME")
	set(&c.Event.Path, "GITHUB_EVENT_PATH")
	set(&c.SHA, "GITHUB_SHA")
	set(&c.BuildConfig, "BUILD_CONFIG")
	set(&c.Editor.EnvFile, "GITHUB_ENV")
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() error {
	if c.Workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		c.Workspace = cwd
	}
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}
	c.Workspace = abs

	if c.Checkout == "" {
		c.Checkout = "aquarium"
	}
	if c.URL == "" && c.Repository != "" {
		c.URL = fmt.Sprintf("https://github.com/%s.git", c.Repository)
	}
	if c.Overlay.Tag == "" {
		c.Overlay.Tag = DefaultTag
	}
	if c.Overlay.Identity.Name == "" {
		c.Overlay.Identity.Name = "cishim"
	}
	if c.Overlay.Identity.Email == "" {
		c.Overlay.Identity.Email = "cishim@localhost"
	}
	if c.Editor.RelayBinary == "" {
		if exe, err := os.Executable(); err == nil {
			c.Editor.RelayBinary = filepath.Join(filepath.Dir(exe), RelayBinaryName())
		}
	}
	return nil
}

// RelayBinaryName is the file name of the editor relay on this platform.
func RelayBinaryName() string {
	if runtime.GOOS == "windows" {
		return "cishim-relay.exe"
	}
	return "cishim-relay"
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if !filepath.IsAbs(c.Workspace) {
		return fmt.Errorf("workspace must be an absolute path: %s", c.Workspace)
	}

	if c.Checkout == "" || c.Checkout != filepath.Base(c.Checkout) || c.Checkout == "." || c.Checkout == ".." {
		return fmt.Errorf("checkout must be a plain directory name: %q", c.Checkout)
	}

	if !tagRE.MatchString(c.Overlay.Tag) {
		return fmt.Errorf("invalid overlay.tag: %q", c.Overlay.Tag)
	}
	if c.Overlay.Identity.Name == "" || c.Overlay.Identity.Email == "" {
		return fmt.Errorf("overlay.identity requires name and email")
	}

	// Event name and payload come as a pair
	if (c.Event.Name == "") != (c.Event.Path == "") {
		return fmt.Errorf("event.name and event.path must be set together")
	}
	if c.Event.Name != "" && c.Event.Name != event.PullRequestEvent {
		return fmt.Errorf("%w: %q", event.ErrUnsupportedEvent, c.Event.Name)
	}

	if c.BuildConfig != "" {
		if _, err := buildconfig.Parse(c.BuildConfig); err != nil {
			return err
		}
	}

	if c.DepotTools.Dir != "" && !filepath.IsAbs(c.DepotTools.Dir) {
		return fmt.Errorf("depot_tools.dir must be an absolute path: %s", c.DepotTools.Dir)
	}

	return nil
}

// ErrNoBuildConfig is returned by Build when no build configuration is set.
var ErrNoBuildConfig = errors.New("no build configuration")

// Build decodes the build configuration.
func (c *Config) Build() (*buildconfig.Config, error) {
	if c.BuildConfig == "" {
		return nil, ErrNoBuildConfig
	}
	return buildconfig.Parse(c.BuildConfig)
}

// PullRequest loads the event payload. It returns nil when the run was not
// triggered by an event.
func (c *Config) PullRequest() (*event.PullRequest, error) {
	if c.Event.Name == "" {
		return nil, nil
	}
	return event.Load(c.Event.Name, c.Event.Path)
}

// SubWorkDir returns the per pull request directory, or the workspace when
// pr is nil.
func (c *Config) SubWorkDir(pr *event.PullRequest) string {
	if pr == nil {
		return c.Workspace
	}
	return filepath.Join(c.Workspace, pr.Head.SHA)
}

// CheckoutDir returns the path of the clone
func (c *Config) CheckoutDir(pr *event.PullRequest) string {
	return filepath.Join(c.SubWorkDir(pr), c.Checkout)
}

// DepotToolsDir returns the depot_tools checkout
func (c *Config) DepotToolsDir(pr *event.PullRequest) string {
	if c.DepotTools.Dir != "" {
		return c.DepotTools.Dir
	}
	return filepath.Join(c.SubWorkDir(pr), "depot_tools")
}

// TemplateDir returns the git template directory used for clones
func (c *Config) TemplateDir() string {
	return filepath.Join(c.Workspace, "git-templates")
}
