package db

import (
	"path/filepath"
	"testing"

	"kiln.build/core/composer/models"
	"kiln.build/core/notifier"
)

func testDB(t *testing.T) (*DB, *notifier.Notifier) {
	t.Helper()
	d, err := Make(filepath.Join(t.TempDir(), "kiln.db"))
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	n := notifier.New()
	return d, &n
}

func testRunContext() *models.RunContext {
	return &models.RunContext{
		ReleaseSpec: models.ReleaseSpec{Name: "rawhide", Arch: "x86_64"},
		UID:         "run-1",
		Topic:       "org.fedoraproject.prod.compose.rawhide",
	}
}

func TestRunLifecycle(t *testing.T) {
	d, n := testDB(t)
	rc := testRunContext()

	if err := d.InsertRun(rc, n); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	run, err := d.GetRun(rc.UID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != models.StatusKindPending {
		t.Errorf("new run should be pending, got %s", run.Status)
	}
	if run.Release != "rawhide" || run.Arch != "x86_64" {
		t.Errorf("run fields lost: %+v", run)
	}

	if err := d.MarkRunRunning(rc.UID, rc.Name, n); err != nil {
		t.Fatalf("MarkRunRunning: %v", err)
	}
	run, _ = d.GetRun(rc.UID)
	if run.Status != models.StatusKindRunning || run.Started == nil {
		t.Errorf("run should be running with a start time: %+v", run)
	}

	if err := d.MarkRunFailed(rc.UID, rc.Name, "compose exited 1", 1, n); err != nil {
		t.Fatalf("MarkRunFailed: %v", err)
	}
	run, _ = d.GetRun(rc.UID)
	if run.Status != models.StatusKindFailed {
		t.Errorf("run should be failed, got %s", run.Status)
	}
	if run.Error == nil || *run.Error != "compose exited 1" {
		t.Errorf("run error lost: %+v", run.Error)
	}
	if run.ExitCode == nil || *run.ExitCode != 1 {
		t.Errorf("exit code lost: %+v", run.ExitCode)
	}
	if run.Finished == nil {
		t.Error("failed run should have a finish time")
	}
}

func TestRunRevision(t *testing.T) {
	d, n := testDB(t)
	rc := testRunContext()
	if err := d.InsertRun(rc, n); err != nil {
		t.Fatal(err)
	}

	if err := d.SetRunRevision(rc.UID, "abc123"); err != nil {
		t.Fatalf("SetRunRevision: %v", err)
	}
	run, _ := d.GetRun(rc.UID)
	if run.Revision == nil || *run.Revision != "abc123" {
		t.Errorf("revision lost: %+v", run.Revision)
	}
}

func TestEventJournal(t *testing.T) {
	d, n := testDB(t)
	rc := testRunContext()

	if err := d.InsertRun(rc, n); err != nil {
		t.Fatal(err)
	}
	if err := d.MarkRunRunning(rc.UID, rc.Name, n); err != nil {
		t.Fatal(err)
	}
	if err := d.MarkRunSucceeded(rc.UID, rc.Name, n); err != nil {
		t.Fatal(err)
	}

	evts, err := d.GetEvents(0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(evts) != 3 {
		t.Fatalf("expected 3 journal entries, got %d", len(evts))
	}

	// resuming from the first entry's cursor skips it
	rest, err := d.GetEvents(evts[0].Created)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Errorf("expected 2 entries after cursor, got %d", len(rest))
	}
}

func TestEventJournalNotifies(t *testing.T) {
	d, n := testDB(t)
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	if err := d.InsertRun(testRunContext(), n); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
	default:
		t.Error("expected a notifier tick after a status event")
	}
}
