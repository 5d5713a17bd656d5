package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/schaermu/cishim/internal/buildconfig"
	"github.com/schaermu/cishim/internal/event"
)

var ciVars = []string{
	"WORKSPACE_OVERRIDE",
	"GITHUB_WORKSPACE",
	"GITHUB_REPOSITORY",
	"GITHUB_EVENT_NAME",
	"GITHUB_EVENT_PATH",
	"GITHUB_SHA",
	"BUILD_CONFIG",
	"GITHUB_ENV",
}

// clearCI hides the runner's own variables when the tests run in CI.
func clearCI(t *testing.T) {
	t.Helper()
	for _, name := range ciVars {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cishim.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearCI(t)
	workspace := t.TempDir()

	content := fmt.Sprintf(`
workspace: '%s'
repository: "example/aquarium"
checkout: "src"
build_config: "abc123-angle-debug"

overlay:
  tag: "PR_OVERLAY"
  identity:
    name: "bot"
    email: "bot@example.com"

depot_tools:
  dir: '%s'
`, workspace, filepath.Join(workspace, "tools"))

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Workspace != workspace {
		t.Errorf("Workspace = %s, want %s", cfg.Workspace, workspace)
	}
	if cfg.URL != "https://github.com/example/aquarium.git" {
		t.Errorf("URL = %s", cfg.URL)
	}
	if cfg.Overlay.Tag != "PR_OVERLAY" {
		t.Errorf("Overlay.Tag = %s, want PR_OVERLAY", cfg.Overlay.Tag)
	}
	if cfg.Overlay.Identity != (Identity{Name: "bot", Email: "bot@example.com"}) {
		t.Errorf("Overlay.Identity = %+v", cfg.Overlay.Identity)
	}
	if got := cfg.CheckoutDir(nil); got != filepath.Join(workspace, "src") {
		t.Errorf("CheckoutDir(nil) = %s", got)
	}
	if got := cfg.DepotToolsDir(nil); got != filepath.Join(workspace, "tools") {
		t.Errorf("DepotToolsDir(nil) = %s", got)
	}
}

func TestLoad_WithoutFile(t *testing.T) {
	clearCI(t)
	workspace := t.TempDir()
	t.Setenv("GITHUB_WORKSPACE", workspace)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workspace != workspace {
		t.Errorf("Workspace = %s, want %s", cfg.Workspace, workspace)
	}
	if cfg.Checkout != "aquarium" {
		t.Errorf("Checkout = %s, want aquarium", cfg.Checkout)
	}
	if cfg.Overlay.Tag != DefaultTag {
		t.Errorf("Overlay.Tag = %s, want %s", cfg.Overlay.Tag, DefaultTag)
	}
	if cfg.URL != "" {
		t.Errorf("URL = %q, want empty without a repository", cfg.URL)
	}
	if filepath.Base(cfg.Editor.RelayBinary) != RelayBinaryName() {
		t.Errorf("Editor.RelayBinary = %s", cfg.Editor.RelayBinary)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	clearCI(t)
	fromFile := t.TempDir()
	override := t.TempDir()
	eventPath := filepath.Join(t.TempDir(), "event.json")

	t.Setenv("GITHUB_WORKSPACE", t.TempDir())
	t.Setenv("WORKSPACE_OVERRIDE", override)
	t.Setenv("GITHUB_REPOSITORY", "env/repo")
	t.Setenv("GITHUB_EVENT_NAME", "pull_request")
	t.Setenv("GITHUB_EVENT_PATH", eventPath)
	t.Setenv("GITHUB_SHA", "feedface")
	t.Setenv("BUILD_CONFIG", "beef-x86")
	t.Setenv("GITHUB_ENV", "/runner/env")

	cfg, err := Load(writeConfig(t, fmt.Sprintf("workspace: '%s'\nrepository: file/repo\n", fromFile)))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"Workspace", cfg.Workspace, override},
		{"Repository", cfg.Repository, "env/repo"},
		{"Event.Name", cfg.Event.Name, "pull_request"},
		{"Event.Path", cfg.Event.Path, eventPath},
		{"SHA", cfg.SHA, "feedface"},
		{"BuildConfig", cfg.BuildConfig, "beef-x86"},
		{"Editor.EnvFile", cfg.Editor.EnvFile, "/runner/env"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
}

func TestLoad_RelativeWorkspaceIsResolved(t *testing.T) {
	clearCI(t)
	t.Setenv("WORKSPACE_OVERRIDE", "work")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(cwd, "work"); cfg.Workspace != want {
		t.Errorf("Workspace = %s, want %s", cfg.Workspace, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearCI(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "workspace: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}

	t.Setenv("BUILD_CONFIG", "abc-bogus")
	_, err := Load("")
	if !errors.Is(err, buildconfig.ErrUnknownMnemonic) {
		t.Errorf("error = %v, want ErrUnknownMnemonic", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Workspace: "/absolute/work",
			Checkout:  "aquarium",
			Overlay: OverlayConfig{
				Tag:      DefaultTag,
				Identity: Identity{Name: "cishim", Email: "cishim@localhost"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "relative workspace",
			mutate:  func(c *Config) { c.Workspace = "relative" },
			wantErr: true,
		},
		{
			name:    "checkout with separator",
			mutate:  func(c *Config) { c.Checkout = "a/b" },
			wantErr: true,
		},
		{
			name:    "checkout parent",
			mutate:  func(c *Config) { c.Checkout = ".." },
			wantErr: true,
		},
		{
			name:    "tag with space",
			mutate:  func(c *Config) { c.Overlay.Tag = "GITHUB SHA" },
			wantErr: true,
		},
		{
			name:    "missing identity email",
			mutate:  func(c *Config) { c.Overlay.Identity.Email = "" },
			wantErr: true,
		},
		{
			name:    "event name without payload",
			mutate:  func(c *Config) { c.Event.Name = "pull_request" },
			wantErr: true,
		},
		{
			name:    "push event",
			mutate:  func(c *Config) { c.Event = EventConfig{Name: "push", Path: "/event.json"} },
			wantErr: true,
		},
		{
			name:   "pull request event",
			mutate: func(c *Config) { c.Event = EventConfig{Name: "pull_request", Path: "/event.json"} },
		},
		{
			name:    "conflicting build config",
			mutate:  func(c *Config) { c.BuildConfig = "abc-debug-release" },
			wantErr: true,
		},
		{
			name:    "relative depot_tools",
			mutate:  func(c *Config) { c.DepotTools.Dir = "depot_tools" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_UnsupportedEventIsTyped(t *testing.T) {
	cfg := Config{
		Workspace: "/w",
		Checkout:  "aquarium",
		Event:     EventConfig{Name: "push", Path: "/e.json"},
		Overlay:   OverlayConfig{Tag: DefaultTag, Identity: Identity{Name: "a", Email: "b"}},
	}
	if err := cfg.Validate(); !errors.Is(err, event.ErrUnsupportedEvent) {
		t.Errorf("Validate() error = %v, want ErrUnsupportedEvent", err)
	}
}

func TestConfigHelpers(t *testing.T) {
	cfg := Config{Workspace: "/work", Checkout: "aquarium"}
	pr := &event.PullRequest{Head: event.Ref{SHA: "cafe"}}

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"SubWorkDir(nil)", cfg.SubWorkDir(nil), "/work"},
		{"SubWorkDir(pr)", cfg.SubWorkDir(pr), filepath.Join("/work", "cafe")},
		{"CheckoutDir(pr)", cfg.CheckoutDir(pr), filepath.Join("/work", "cafe", "aquarium")},
		{"DepotToolsDir(pr)", cfg.DepotToolsDir(pr), filepath.Join("/work", "cafe", "depot_tools")},
		{"TemplateDir()", cfg.TemplateDir(), filepath.Join("/work", "git-templates")},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
}

func TestBuild(t *testing.T) {
	if _, err := (&Config{}).Build(); !errors.Is(err, ErrNoBuildConfig) {
		t.Errorf("Build() error = %v, want ErrNoBuildConfig", err)
	}

	bc, err := (&Config{BuildConfig: "abc-release"}).Build()
	if err != nil {
		t.Fatal(err)
	}
	if bc.Head() != "abc^2" {
		t.Errorf("Head() = %s, want abc^2", bc.Head())
	}
}

func TestPullRequest(t *testing.T) {
	pr, err := (&Config{}).PullRequest()
	if err != nil || pr != nil {
		t.Errorf("PullRequest() = %v, %v; want nil, nil without an event", pr, err)
	}

	path := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(path, []byte(`{"pull_request":{"head":{"sha":"abc"}}}`), 0644); err != nil {
		t.Fatal(err)
	}
	pr, err = (&Config{Event: EventConfig{Name: "pull_request", Path: path}}).PullRequest()
	if err != nil {
		t.Fatal(err)
	}
	if pr.Head.SHA != "abc" {
		t.Errorf("Head.SHA = %s, want abc", pr.Head.SHA)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CISHIM_TEST_HOME", "/home/testuser")

	cfg := Config{
		Workspace:  "${CISHIM_TEST_HOME}/work",
		Event:      EventConfig{Path: "${CISHIM_TEST_HOME}/event.json"},
		Editor:     EditorConfig{RelayBinary: "${CISHIM_TEST_HOME}/bin/relay", EnvFile: "${CISHIM_TEST_HOME}/env"},
		DepotTools: DepotToolsConfig{Dir: "${CISHIM_TEST_HOME}/depot_tools"},
	}

	cfg.expandEnv()

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"Workspace", cfg.Workspace, "/home/testuser/work"},
		{"Event.Path", cfg.Event.Path, "/home/testuser/event.json"},
		{"Editor.RelayBinary", cfg.Editor.RelayBinary, "/home/testuser/bin/relay"},
		{"Editor.EnvFile", cfg.Editor.EnvFile, "/home/testuser/env"},
		{"DepotTools.Dir", cfg.DepotTools.Dir, "/home/testuser/depot_tools"},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("expandEnv() %s = %s, want %s", c.name, c.got, c.want)
		}
	}
}
