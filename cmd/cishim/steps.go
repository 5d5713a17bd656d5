package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/schaermu/cishim/internal/config"
	"github.com/schaermu/cishim/internal/depottools"
	"github.com/schaermu/cishim/internal/editor"
	"github.com/schaermu/cishim/internal/git"
	"github.com/schaermu/cishim/internal/overlay"
	"github.com/schaermu/cishim/internal/sync"
	"github.com/schaermu/cishim/internal/templates"
)

var (
	emptyTemplates bool
	overlayDir     string
	overlayTag     string
	overlayBase    string
	overlayHead    string
	overlayVerify  string
	editorTool     string
	githubEnv      bool
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage the git template directory used for clones",
}

var templatesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile <workspace>/git-templates with the hook for this run",
	Long: `Sync stages a fresh git template directory and reconciles it onto
<workspace>/git-templates, deleting anything stale.

For pull request runs with a build configuration the template carries a
post-checkout hook that creates the overlay tag. Otherwise the hook does
nothing, and with --empty there are no hooks at all.`,
	RunE: runTemplatesSync,
}

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Clone the repository with the overlay hook installed",
	RunE:  runClone,
}

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Create and inspect the overlay tag",
}

var overlayCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the overlay tag (no-op when it exists)",
	Long: `Create records the pull request as a tagged commit with three parents: the
base branch head, the pull request head and a squash of the pull request onto
its merge base. It runs from the post-checkout hook of the clone.

Revisions default to the CI environment: --base is GITHUB_SHA^1, --head is
the second parent of the build configuration's commit and --verify is that
commit.`,
	RunE: runOverlayCreate,
}

var overlayShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the commits recorded in the overlay tag",
	RunE:  runOverlayShow,
}

var overlayTodoCmd = &cobra.Command{
	Use:   "todo",
	Short: "Print the rebase todo list derived from the overlay tag",
	RunE:  runOverlayTodo,
}

var rebaseCmd = &cobra.Command{
	Use:   "rebase",
	Short: "Rebase the pull request onto the base branch head as one commit",
	RunE:  runRebase,
}

var editorCmd = &cobra.Command{
	Use:   "editor",
	Short: "Manage the substitute editor",
}

var editorInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Activate the substitute editor for a tool",
	Long: `Install prints the environment variables that point the tool at the
substitute editor, one NAME=value per line. With --github-env they are also
appended to the runner's environment file so later steps see them.

For gn on Windows this also registers the relay as the open command for text
files of the current user. That registration is persistent and is not undone.`,
	RunE: runEditorInstall,
}

var gnArgsCmd = &cobra.Command{
	Use:   "gn-args",
	Short: "Write out/args.gn from the build configuration through gn args",
	RunE:  runGNArgs,
}

var gclientSyncCmd = &cobra.Command{
	Use:   "gclient-sync",
	Short: "Run gclient sync in the checkout without git hooks",
	RunE:  runGClientSync,
}

var updateDepotToolsCmd = &cobra.Command{
	Use:   "update-depot-tools",
	Short: "Update the depot_tools checkout",
	RunE:  runUpdateDepotTools,
}

var installBuildDepsCmd = &cobra.Command{
	Use:   "install-build-deps",
	Short: "Install the system packages the checkout needs (Linux)",
	RunE:  runInstallBuildDeps,
}

var gitIdentityCmd = &cobra.Command{
	Use:   "git-identity",
	Short: "Configure the global git identity of the runner",
	RunE:  runGitIdentity,
}

func init() {
	templatesSyncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	templatesSyncCmd.Flags().BoolVar(&emptyTemplates, "empty", false, "install no hooks at all")
	templatesCmd.AddCommand(templatesSyncCmd)

	for _, c := range []*cobra.Command{overlayCreateCmd, overlayShowCmd, overlayTodoCmd} {
		c.Flags().StringVar(&overlayDir, "dir", ".", "repository directory")
		c.Flags().StringVar(&overlayTag, "tag", "", "overlay tag name (default from config)")
	}
	overlayCreateCmd.Flags().StringVar(&overlayBase, "base", "", "base branch head")
	overlayCreateCmd.Flags().StringVar(&overlayHead, "head", "", "pull request head")
	overlayCreateCmd.Flags().StringVar(&overlayVerify, "verify", "", "commit id the head must be derived from")
	overlayCmd.AddCommand(overlayCreateCmd, overlayShowCmd, overlayTodoCmd)

	editorInstallCmd.Flags().StringVar(&editorTool, "tool", "", "tool to activate (git, gn)")
	editorInstallCmd.Flags().BoolVar(&githubEnv, "github-env", false, "append the variables to $GITHUB_ENV")
	_ = editorInstallCmd.MarkFlagRequired("tool")
	editorCmd.AddCommand(editorInstallCmd)
}

// hookFor picks the post-checkout hook for this run.
func hookFor(cfg *config.Config, empty bool) (templates.Hook, error) {
	if empty {
		return templates.Hook{Kind: templates.Empty}, nil
	}
	if cfg.SHA == "" || cfg.BuildConfig == "" || cfg.Event.Name == "" {
		return templates.Hook{Kind: templates.NoOp}, nil
	}

	req, err := defaultRequest(cfg)
	if err != nil {
		return templates.Hook{}, err
	}
	binary, err := os.Executable()
	if err != nil {
		return templates.Hook{}, fmt.Errorf("failed to locate cishim executable: %w", err)
	}
	conf, err := configPath()
	if err != nil {
		return templates.Hook{}, err
	}
	return templates.Hook{
		Kind:       templates.Overlay,
		Binary:     binary,
		ConfigFile: conf,
		Tag:        cfg.Overlay.Tag,
		Request:    req,
	}, nil
}

// defaultRequest derives the overlay inputs from the CI environment.
func defaultRequest(cfg *config.Config) (overlay.Request, error) {
	var req overlay.Request
	if cfg.SHA != "" {
		req.Base = cfg.SHA + "^1"
	}
	bc, err := cfg.Build()
	switch {
	case errors.Is(err, config.ErrNoBuildConfig):
	case err != nil:
		return req, err
	default:
		req.Head = bc.Head()
		req.Verify = bc.ID
	}
	return req, nil
}

func installTemplates(env *runEnv, hook templates.Hook, dry bool) error {
	engine := sync.NewEngine(env.logger, dry)
	report, err := templates.Install(engine, env.cfg.Workspace, hook)
	if err != nil {
		return fmt.Errorf("failed to sync git templates: %w", err)
	}
	env.logger.Info("git templates synchronized",
		"hook", hook.Kind,
		"created", report.Count(sync.Create),
		"deleted", report.Count(sync.Delete),
		"overwritten", report.Count(sync.Overwrite),
		"dry_run", dry)
	return nil
}

func runTemplatesSync(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	hook, err := hookFor(env.cfg, emptyTemplates)
	if err != nil {
		return err
	}
	return installTemplates(env, hook, dryRun)
}

func runClone(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	if env.cfg.URL == "" {
		return fmt.Errorf("no repository to clone: set repository or GITHUB_REPOSITORY")
	}
	hook, err := hookFor(env.cfg, false)
	if err != nil {
		return err
	}
	if err := installTemplates(env, hook, false); err != nil {
		return err
	}

	parent, err := env.subWorkDir()
	if err != nil {
		return err
	}
	env.logger.Info("cloning repository", "url", env.cfg.URL, "dir", env.cfg.CheckoutDir(env.pr))
	return git.NewShellClient().Clone(env.ctx, parent, env.cfg.URL, env.cfg.Checkout, env.cfg.TemplateDir())
}

func newConstructor(env *runEnv, dir string) *overlay.Constructor {
	tag := overlayTag
	if tag == "" {
		tag = env.cfg.Overlay.Tag
	}
	id := overlay.Identity{Name: env.cfg.Overlay.Identity.Name, Email: env.cfg.Overlay.Identity.Email}
	return overlay.NewConstructor(git.NewShellClient(), dir, tag, id, env.logger)
}

func runOverlayCreate(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	req, err := defaultRequest(env.cfg)
	if err != nil {
		return err
	}
	if overlayBase != "" {
		req.Base = overlayBase
	}
	if overlayHead != "" {
		req.Head = overlayHead
	}
	if cmd.Flags().Changed("verify") {
		req.Verify = overlayVerify
	}
	if req.Base == "" || req.Head == "" {
		return fmt.Errorf("--base and --head are required outside a pull request run")
	}

	res, err := newConstructor(env, overlayDir).Create(env.ctx, req)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Commit)
	return nil
}

func runOverlayShow(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	ov, err := newConstructor(env, overlayDir).Inspect()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "commit:     %s\n", ov.Commit)
	_, _ = fmt.Fprintf(out, "base:       %s\n", ov.Base)
	_, _ = fmt.Fprintf(out, "head:       %s\n", ov.Head)
	_, _ = fmt.Fprintf(out, "squash:     %s\n", ov.Squash)
	_, _ = fmt.Fprintf(out, "merge-base: %s\n", ov.MergeBase)
	return nil
}

func runOverlayTodo(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	todo, err := newConstructor(env, overlayDir).Todo(env.ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), todo)
	return nil
}

func newChannel(env *runEnv, tool editor.Tool) *editor.Channel {
	return &editor.Channel{
		Tool:        tool,
		Platform:    runtime.GOOS,
		WorkDir:     env.cfg.Workspace,
		RelayBinary: env.cfg.Editor.RelayBinary,
		Associator:  editor.DefaultAssociator(),
		Logger:      env.logger,
	}
}

func runRebase(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	ch := newChannel(env, editor.Git)
	act, err := ch.Install()
	if err != nil {
		return err
	}
	return newConstructor(env, env.cfg.CheckoutDir(env.pr)).Rebase(env.ctx, ch, act)
}

func runEditorInstall(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	tool, err := editor.ParseTool(editorTool)
	if err != nil {
		return err
	}
	act, err := newChannel(env, tool).Install()
	if err != nil {
		return err
	}
	if err := act.WriteEnvFile(cmd.OutOrStdout()); err != nil {
		return err
	}
	if !githubEnv {
		return nil
	}

	if env.cfg.Editor.EnvFile == "" {
		return fmt.Errorf("--github-env needs GITHUB_ENV or editor.env_file")
	}
	f, err := os.OpenFile(env.cfg.Editor.EnvFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open environment file: %w", err)
	}
	if err := act.WriteEnvFile(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write environment file: %w", err)
	}
	return f.Close()
}

func newDepotTools(env *runEnv) *depottools.Client {
	return depottools.NewClient(env.cfg.DepotToolsDir(env.pr), env.logger)
}

func runGNArgs(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	eol := "\n"
	if runtime.GOOS == "windows" {
		eol = "\r\n"
	}
	var gnArgs string
	bc, err := env.cfg.Build()
	switch {
	case errors.Is(err, config.ErrNoBuildConfig):
		env.logger.Info("no build configuration, using gn defaults")
	case err != nil:
		return err
	default:
		gnArgs = bc.Render(eol)
	}

	ch := newChannel(env, editor.GN)
	if _, err := ch.Stage([]byte(gnArgs)); err != nil {
		return err
	}
	act, err := ch.Install()
	if err != nil {
		return err
	}
	if _, err := env.subWorkDir(); err != nil {
		return err
	}
	return newDepotTools(env).GNArgs(env.ctx, env.cfg.CheckoutDir(env.pr), act)
}

func runGClientSync(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	// gclient clones must not run the overlay hook.
	if err := installTemplates(env, templates.Hook{Kind: templates.Empty}, false); err != nil {
		return err
	}
	if _, err := env.subWorkDir(); err != nil {
		return err
	}
	return newDepotTools(env).GClientSync(env.ctx, env.cfg.CheckoutDir(env.pr))
}

func runUpdateDepotTools(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	if _, err := env.subWorkDir(); err != nil {
		return err
	}
	return newDepotTools(env).Update(env.ctx)
}

func runInstallBuildDeps(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	return newDepotTools(env).InstallBuildDeps(env.ctx, env.cfg.CheckoutDir(env.pr))
}

func runGitIdentity(cmd *cobra.Command, args []string) error {
	env, cancel, err := setup()
	if err != nil {
		return err
	}
	defer cancel()

	name, email := env.cfg.Git.Identity.Name, env.cfg.Git.Identity.Email
	if name == "" || email == "" {
		defName, defEmail, err := git.DefaultIdentity(env.ctx)
		if err != nil {
			return fmt.Errorf("failed to determine git identity: %w", err)
		}
		if name == "" {
			name = defName
		}
		if email == "" {
			email = defEmail
		}
	}

	env.logger.Info("configuring git identity", "name", name, "email", email)
	return git.NewShellClient().ConfigureIdentity(env.ctx, name, email, runtime.GOOS == "windows")
}
