package composer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"kiln.build/core/composer/buildroot"
	"kiln.build/core/composer/config"
	"kiln.build/core/composer/db"
	"kiln.build/core/composer/models"
	"kiln.build/core/composer/ostree"
	"kiln.build/core/log"
	"kiln.build/core/notifier"
	"kiln.build/core/runner"
)

// fakeRunner records every argv and simulates git/mock behavior:
// clones create their target directory, log paths get written.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	// failOn makes any command whose argv contains the substring
	// exit 1; errOn makes it fail to spawn at all.
	failOn string
	errOn  string
}

func (f *fakeRunner) Run(_ context.Context, argv []string, opts runner.Options) (runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, argv)
	f.mu.Unlock()

	joined := strings.Join(argv, " ")

	if f.errOn != "" && strings.Contains(joined, f.errOn) {
		return runner.Result{}, errors.New("spawn failed")
	}

	if opts.LogPath != "" {
		if err := os.WriteFile(opts.LogPath, []byte(joined+"\n"), 0644); err != nil {
			return runner.Result{}, err
		}
	}

	if f.failOn != "" && strings.Contains(joined, f.failOn) {
		return runner.Result{ExitCode: 1, Stderr: "boom"}, nil
	}

	if strings.Contains(joined, "clone") {
		if err := os.MkdirAll(argv[len(argv)-1], 0755); err != nil {
			return runner.Result{}, err
		}
	}

	return runner.Result{}, nil
}

func (f *fakeRunner) joinedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

type pipelineFixture struct {
	p    *Pipeline
	d    *db.DB
	n    *notifier.Notifier
	fake *fakeRunner
}

func newPipelineFixture(t *testing.T, pcfg config.Pipelines) *pipelineFixture {
	t.Helper()

	if pcfg.GitBin == "" {
		pcfg.GitBin = "git"
	}
	if pcfg.MockBin == "" {
		pcfg.MockBin = "mock"
	}
	if pcfg.MockRoot == "" {
		pcfg.MockRoot = filepath.Join(t.TempDir(), "mockroot")
	}
	if pcfg.MockSiteDir == "" {
		pcfg.MockSiteDir = "/etc/mock"
	}
	if pcfg.RunTimeout == "" {
		pcfg.RunTimeout = "0"
	}

	d, err := db.Make(filepath.Join(t.TempDir(), "kiln.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })

	n := notifier.New()
	logger := log.New("test")
	fake := &fakeRunner{}

	br, err := buildroot.New(pcfg, fake, logger)
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewPipeline(pcfg, d, &n, br, ostree.New(br, logger), fake, nil, logger)
	if err != nil {
		t.Fatal(err)
	}

	return &pipelineFixture{p: p, d: d, n: &n, fake: fake}
}

func (f *pipelineFixture) runContext(t *testing.T) *models.RunContext {
	t.Helper()
	scratch, err := os.MkdirTemp(t.TempDir(), "scratch-")
	if err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	rc := &models.RunContext{
		ReleaseSpec: models.ReleaseSpec{
			Name:      "rawhide",
			GitRepo:   "https://example.com/fedora-atomic.git",
			GitBranch: "rawhide",
			Mock:      "fedora-rawhide-x86_64",
			Tree:      "fedora-atomic",
			Arch:      "x86_64",
			OutputDir: out,
			LogDir:    filepath.Join(out, "logs"),
			Treefile:  map[string]any{"ref": "fedora-atomic/rawhide/x86_64"},
		},
		UID:        "run-1",
		Topic:      "test",
		ScratchDir: scratch,
		CloneDir:   filepath.Join(scratch, "fedora-atomic"),
		MockDir:    filepath.Join(scratch, "mock"),
	}
	if err := f.d.InsertRun(rc, f.n); err != nil {
		t.Fatal(err)
	}
	return rc
}

func (f *pipelineFixture) status(t *testing.T, uid string) models.StatusKind {
	t.Helper()
	run, err := f.d.GetRun(uid)
	if err != nil {
		t.Fatal(err)
	}
	return run.Status
}

func assertScratchRemoved(t *testing.T, scratch string) {
	t.Helper()
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch dir %s should be removed after the run", scratch)
	}
}

func assertCallOrder(t *testing.T, calls []string, want ...string) {
	t.Helper()
	i := 0
	for _, call := range calls {
		if i < len(want) && strings.Contains(call, want[i]) {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("missing %q in call sequence:\n%s", want[i], strings.Join(calls, "\n"))
	}
}

func TestPipelineHappyPath(t *testing.T) {
	f := newPipelineFixture(t, config.Pipelines{})
	rc := f.runContext(t)
	scratch := rc.ScratchDir

	if err := f.p.Run(context.Background(), rc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	assertCallOrder(t, f.fake.joinedCalls(),
		"git clone -b rawhide",
		"--init",
		"ostree init --repo=",
		"rpm-ostree compose tree --repo=",
		"summary --update",
	)

	for _, name := range []string{ostree.InitLogName, ostree.ComposeLogName} {
		if _, err := os.Stat(filepath.Join(rc.LogDir, name)); err != nil {
			t.Errorf("expected log file %s: %v", name, err)
		}
	}

	assertScratchRemoved(t, scratch)
	if got := f.status(t, rc.UID); got != models.StatusKindSucceeded {
		t.Errorf("run should be succeeded, got %s", got)
	}
}

func TestPipelineCloneFailureAbortsRun(t *testing.T) {
	f := newPipelineFixture(t, config.Pipelines{})
	f.fake.failOn = "clone"
	rc := f.runContext(t)
	scratch := rc.ScratchDir

	if err := f.p.Run(context.Background(), rc); err == nil {
		t.Fatal("expected clone failure to abort the run")
	}

	if calls := f.fake.joinedCalls(); len(calls) != 1 {
		t.Errorf("no step should run after a failed clone, got:\n%s", strings.Join(calls, "\n"))
	}
	assertScratchRemoved(t, scratch)
	if got := f.status(t, rc.UID); got != models.StatusKindFailed {
		t.Errorf("run should be failed, got %s", got)
	}
}

func TestPipelineChrootFailureIsAdvisory(t *testing.T) {
	f := newPipelineFixture(t, config.Pipelines{})
	f.fake.failOn = "--init"
	rc := f.runContext(t)

	if err := f.p.Run(context.Background(), rc); err != nil {
		t.Fatalf("chroot init exit code should not abort the run: %v", err)
	}
	assertCallOrder(t, f.fake.joinedCalls(), "--init", "summary --update")
}

func TestPipelineSummaryRunsAfterFailedCompose(t *testing.T) {
	f := newPipelineFixture(t, config.Pipelines{})
	f.fake.failOn = "compose tree"
	rc := f.runContext(t)

	if err := f.p.Run(context.Background(), rc); err != nil {
		t.Fatalf("compose exit code is advisory by default: %v", err)
	}
	assertCallOrder(t, f.fake.joinedCalls(), "rpm-ostree compose tree", "summary --update")
	if got := f.status(t, rc.UID); got != models.StatusKindSucceeded {
		t.Errorf("run should be succeeded, got %s", got)
	}
}

func TestPipelineComposeFailureFatal(t *testing.T) {
	f := newPipelineFixture(t, config.Pipelines{ComposeFailureFatal: true})
	f.fake.failOn = "compose tree"
	rc := f.runContext(t)
	scratch := rc.ScratchDir

	if err := f.p.Run(context.Background(), rc); err == nil {
		t.Fatal("expected a fatal compose failure")
	}

	for _, call := range f.fake.joinedCalls() {
		if strings.Contains(call, "summary --update") {
			t.Error("summary must not run after a fatal compose failure")
		}
	}
	assertScratchRemoved(t, scratch)
	if got := f.status(t, rc.UID); got != models.StatusKindFailed {
		t.Errorf("run should be failed, got %s", got)
	}
}

func TestPipelineSkipsInitWhenRepoExists(t *testing.T) {
	f := newPipelineFixture(t, config.Pipelines{})
	rc := f.runContext(t)

	if err := os.MkdirAll(rc.RepoPath(), 0755); err != nil {
		t.Fatal(err)
	}

	if err := f.p.Run(context.Background(), rc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, call := range f.fake.joinedCalls() {
		if strings.Contains(call, "ostree init") {
			t.Error("existing repository must never be re-initialized")
		}
	}
}

func TestPipelineResourceErrorStillCleansUp(t *testing.T) {
	f := newPipelineFixture(t, config.Pipelines{})
	rc := f.runContext(t)
	scratch := rc.ScratchDir

	// a file where the log dir should go makes MkdirAll fail
	rc.LogDir = filepath.Join(rc.OutputDir, "logs")
	if err := os.WriteFile(rc.LogDir, []byte("in the way"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := f.p.Run(context.Background(), rc); err == nil {
		t.Fatal("expected a resource error")
	}

	for _, call := range f.fake.joinedCalls() {
		if strings.Contains(call, "rpm-ostree") {
			t.Error("compose must not run after a resource error")
		}
	}
	assertScratchRemoved(t, scratch)
	if got := f.status(t, rc.UID); got != models.StatusKindFailed {
		t.Errorf("run should be failed, got %s", got)
	}
}
