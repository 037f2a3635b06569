// Package ostree drives the archive-mode ostree repository for a
// release: one-time initialization, the rpm-ostree compose itself,
// and the summary refresh. Every command runs inside the release's
// mock chroot.
package ostree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kiln.build/core/composer/buildroot"
	"kiln.build/core/composer/models"
	"kiln.build/core/runner"
)

const (
	InitLogName    = "ostree.log"
	ComposeLogName = "rpm-ostree.log"
)

type Repo struct {
	br *buildroot.BuildRoot
	l  *slog.Logger
}

func New(br *buildroot.BuildRoot, l *slog.Logger) *Repo {
	return &Repo{br: br, l: l.With("component", "ostree")}
}

// EnsureInitialized creates the archive-mode repository when its
// path is missing. An existing repository is left untouched:
// re-initializing would clobber it.
func (r *Repo) EnsureInitialized(ctx context.Context, rc *models.RunContext) (runner.Result, error) {
	repoPath := rc.RepoPath()
	if _, err := os.Stat(repoPath); err == nil {
		r.l.Info("repository already initialized", "repo", repoPath)
		return runner.Result{}, nil
	}

	r.l.Info("initializing repository", "repo", repoPath)
	return r.br.Shell(ctx, rc, filepath.Join(rc.LogDir, InitLogName),
		"ostree", "init", "--repo="+repoPath, "--mode=archive-z2")
}

// Compose runs rpm-ostree against the repository with the given
// manifest, reporting how long the compose took.
func (r *Repo) Compose(ctx context.Context, rc *models.RunContext, treefile string) (time.Duration, runner.Result, error) {
	start := time.Now()
	res, err := r.br.Shell(ctx, rc, filepath.Join(rc.LogDir, ComposeLogName),
		"rpm-ostree", "compose", "tree", "--repo="+rc.RepoPath(), treefile)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, res, fmt.Errorf("composing tree: %w", err)
	}
	r.l.Info("compose finished", "release", rc.Name, "duration", elapsed, "exit_code", res.ExitCode)
	return elapsed, res, nil
}

// UpdateSummary republishes the repository's summary index.
func (r *Repo) UpdateSummary(ctx context.Context, rc *models.RunContext) (runner.Result, error) {
	r.l.Info("updating repository summary", "release", rc.Name)
	return r.br.Shell(ctx, rc, "",
		"ostree", "--repo="+rc.RepoPath(), "summary", "--update")
}

// SummaryPath is where the published summary lives on disk.
func SummaryPath(rc *models.RunContext) string {
	return filepath.Join(rc.RepoPath(), "summary")
}
