package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"kiln.build/core/composer/buildroot"
	"kiln.build/core/composer/config"
	"kiln.build/core/composer/db"
	"kiln.build/core/composer/models"
	"kiln.build/core/composer/ostree"
	"kiln.build/core/notifier"
	"kiln.build/core/runner"
	"kiln.build/core/telemetry"
)

// Pipeline runs one compose end to end: config clone, chroot
// preparation, repository init, the compose itself, and the summary
// refresh. Only the clone and host filesystem setup are fatal; later
// external-command failures are logged and the run continues, which
// matches how the composer has always behaved.
type Pipeline struct {
	cfg config.Pipelines
	db  *db.DB
	n   *notifier.Notifier
	br  *buildroot.BuildRoot
	ot  *ostree.Repo
	run runner.Runner
	l   *slog.Logger

	timeout time.Duration

	composeDuration otelmetric.Float64Histogram
	runsInFlight    otelmetric.Int64UpDownCounter
}

func NewPipeline(
	cfg config.Pipelines,
	d *db.DB,
	n *notifier.Notifier,
	br *buildroot.BuildRoot,
	ot *ostree.Repo,
	run runner.Runner,
	tel *telemetry.Telemetry,
	l *slog.Logger,
) (*Pipeline, error) {
	timeout, err := time.ParseDuration(cfg.RunTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing run timeout: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		db:      d,
		n:       n,
		br:      br,
		ot:      ot,
		run:     run,
		l:       l.With("component", "pipeline"),
		timeout: timeout,
	}

	if tel != nil {
		p.composeDuration, err = tel.Meter().Float64Histogram(
			"compose_duration_seconds",
			otelmetric.WithDescription("Wall-clock duration of rpm-ostree compose invocations."),
			otelmetric.WithUnit("s"),
		)
		if err != nil {
			return nil, err
		}
		p.runsInFlight, err = tel.Meter().Int64UpDownCounter(
			"runs_in_flight",
			otelmetric.WithDescription("Number of compose pipeline runs currently executing."),
		)
		if err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Run executes the pipeline for one RunContext. The scratch
// directory is removed on every exit path. The returned error is the
// fatal failure that aborted the run, if any; the run row is already
// marked by the time Run returns.
func (p *Pipeline) Run(ctx context.Context, rc *models.RunContext) error {
	l := p.l.With("release", rc.Name, "uid", rc.UID)

	defer func() {
		if err := rc.Cleanup(); err != nil {
			l.Error("scratch cleanup failed", "err", err)
		}
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if p.runsInFlight != nil {
		p.runsInFlight.Add(ctx, 1)
		defer p.runsInFlight.Add(ctx, -1)
	}

	if err := p.db.MarkRunRunning(rc.UID, rc.Name, p.n); err != nil {
		l.Error("failed to mark run running", "err", err)
	}

	exitCode, err := p.compose(ctx, rc, l)
	if err != nil {
		l.Error("compose run failed", "err", err)
		if dberr := p.db.MarkRunFailed(rc.UID, rc.Name, err.Error(), exitCode, p.n); dberr != nil {
			l.Error("failed to mark run failed", "err", dberr)
		}
		return err
	}

	l.Info("compose run succeeded")
	if dberr := p.db.MarkRunSucceeded(rc.UID, rc.Name, p.n); dberr != nil {
		l.Error("failed to mark run succeeded", "err", dberr)
	}
	return nil
}

func (p *Pipeline) compose(ctx context.Context, rc *models.RunContext, l *slog.Logger) (int64, error) {
	// 1. sync configuration
	res, err := p.run.Run(ctx, []string{
		p.cfg.GitBin, "clone", "-b", rc.GitBranch, rc.GitRepo, rc.CloneDir,
	}, runner.Options{})
	if err != nil {
		return -1, fmt.Errorf("cloning configuration: %w", err)
	}
	if res.Failed() {
		return int64(res.ExitCode), fmt.Errorf("cloning configuration: git exited %d: %s", res.ExitCode, res.Stderr)
	}
	if rev, err := cloneRevision(rc.CloneDir); err != nil {
		l.Warn("could not resolve clone revision", "err", err)
	} else if err := p.db.SetRunRevision(rc.UID, rev); err != nil {
		l.Warn("could not record clone revision", "err", err)
	}

	// 2. render chroot config
	if err := p.br.WriteConfig(rc); err != nil {
		return -1, err
	}

	// 3. prepare chroot
	if res, err := p.br.EnsureReady(ctx, rc); err != nil {
		return -1, fmt.Errorf("preparing chroot: %w", err)
	} else if res.Failed() {
		l.Warn("chroot preparation exited non-zero", "exit_code", res.ExitCode)
	}

	// 4. initialize repository
	if err := os.MkdirAll(filepath.Dir(rc.RepoPath()), 0755); err != nil {
		return -1, fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.MkdirAll(rc.LogDir, 0755); err != nil {
		return -1, fmt.Errorf("creating log dir: %w", err)
	}
	if res, err := p.ot.EnsureInitialized(ctx, rc); err != nil {
		return -1, fmt.Errorf("initializing repository: %w", err)
	} else if res.Failed() {
		l.Warn("repository init exited non-zero", "exit_code", res.ExitCode)
	}

	// 5. compose
	treefile, err := json.Marshal(rc.Treefile)
	if err != nil {
		return -1, fmt.Errorf("serializing treefile: %w", err)
	}
	if err := os.WriteFile(rc.TreefilePath(), treefile, 0644); err != nil {
		return -1, fmt.Errorf("writing treefile: %w", err)
	}

	elapsed, res, err := p.ot.Compose(ctx, rc, rc.TreefilePath())
	if p.composeDuration != nil {
		p.composeDuration.Record(ctx, elapsed.Seconds(),
			otelmetric.WithAttributes(attribute.String("release", rc.Name)))
	}
	if err != nil {
		return -1, err
	}
	if res.Failed() {
		if p.cfg.ComposeFailureFatal {
			return int64(res.ExitCode), fmt.Errorf("compose exited %d", res.ExitCode)
		}
		// historically the summary refresh still runs after a
		// failed compose; keep that unless configured otherwise
		l.Warn("compose exited non-zero", "exit_code", res.ExitCode)
	}

	// 6. update summary
	if res, err := p.ot.UpdateSummary(ctx, rc); err != nil {
		return -1, fmt.Errorf("updating summary: %w", err)
	} else if res.Failed() {
		l.Warn("summary update exited non-zero", "exit_code", res.ExitCode)
	}

	return 0, nil
}

func cloneRevision(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}
