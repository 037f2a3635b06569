// Package buildroot manages the mock chroots that composes run in:
// rendering per-run mock configuration, initializing or updating the
// chroot, and executing commands inside it.
package buildroot

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"kiln.build/core/composer/config"
	"kiln.build/core/composer/models"
	"kiln.build/core/runner"
)

//go:embed mock.cfg.tmpl
var templates embed.FS

// siteConfigs are symlinked from the site-wide mock directory into
// each run's config dir so they are visible inside the chroot.
var siteConfigs = []string{"site-defaults.cfg", "logging.ini"}

type BuildRoot struct {
	cfg  config.Pipelines
	run  runner.Runner
	l    *slog.Logger
	tmpl *template.Template
}

func New(cfg config.Pipelines, run runner.Runner, l *slog.Logger) (*BuildRoot, error) {
	tmpl, err := template.ParseFS(templates, "mock.cfg.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing mock config template: %w", err)
	}
	return &BuildRoot{
		cfg:  cfg,
		run:  run,
		l:    l.With("component", "buildroot"),
		tmpl: tmpl,
	}, nil
}

// WriteConfig renders the mock configuration for one run into its
// scratch config dir and links in the site-wide settings.
func (b *BuildRoot) WriteConfig(rc *models.RunContext) error {
	if err := os.MkdirAll(rc.MockDir, 0755); err != nil {
		return fmt.Errorf("creating mock config dir: %w", err)
	}

	for _, cfg := range siteConfigs {
		target := filepath.Join(b.cfg.MockSiteDir, cfg)
		if err := os.Symlink(target, filepath.Join(rc.MockDir, cfg)); err != nil {
			return fmt.Errorf("linking %s: %w", cfg, err)
		}
	}

	f, err := os.Create(rc.MockConfigPath())
	if err != nil {
		return fmt.Errorf("creating mock config: %w", err)
	}
	defer f.Close()

	if err := b.tmpl.Execute(f, rc); err != nil {
		return fmt.Errorf("rendering mock config: %w", err)
	}

	b.l.Info("mock config written", "path", rc.MockConfigPath())
	return nil
}

// EnsureReady initializes the chroot when its root directory is
// missing and updates it in place otherwise. Both paths go through
// mock itself, which tolerates partial state.
func (b *BuildRoot) EnsureReady(ctx context.Context, rc *models.RunContext) (runner.Result, error) {
	root := filepath.Join(b.cfg.MockRoot, rc.Mock)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		b.l.Info("initializing mock chroot", "chroot", rc.Mock)
		return b.Exec(ctx, rc, "", "--init")
	}
	b.l.Info("updating mock chroot", "chroot", rc.Mock)
	return b.Exec(ctx, rc, "", "--update")
}

// Exec runs a mock command against this run's chroot. The config dir
// is always passed explicitly so concurrent runs with different
// configs never collide on the default location. When logPath is set
// the child's stdout and stderr go to that file.
func (b *BuildRoot) Exec(ctx context.Context, rc *models.RunContext, logPath string, args ...string) (runner.Result, error) {
	argv := []string{b.cfg.MockBin, "-r", rc.Mock, "--configdir=" + rc.MockDir}
	argv = append(argv, args...)
	return b.run.Run(ctx, argv, runner.Options{LogPath: logPath})
}

// Shell runs a command inside the chroot via mock --shell.
func (b *BuildRoot) Shell(ctx context.Context, rc *models.RunContext, logPath string, args ...string) (runner.Result, error) {
	shellArgs := append([]string{"--shell", "--"}, args...)
	return b.Exec(ctx, rc, logPath, shellArgs...)
}
