package db

import (
	"database/sql"
	"time"

	"kiln.build/core/composer/models"
	"kiln.build/core/notifier"
)

type Run struct {
	UID      string            `json:"uid"`
	Release  string            `json:"release"`
	Arch     string            `json:"arch"`
	Topic    string            `json:"topic"`
	Status   models.StatusKind `json:"status"`
	Error    *string           `json:"error,omitempty"`
	ExitCode *int64            `json:"exitCode,omitempty"`
	Revision *string           `json:"revision,omitempty"`
	Created  string            `json:"created"`
	Started  *string           `json:"started,omitempty"`
	Finished *string           `json:"finished,omitempty"`
}

func (d *DB) InsertRun(rc *models.RunContext, n *notifier.Notifier) error {
	_, err := d.Exec(
		`insert into runs (uid, release, arch, topic, status) values (?, ?, ?, ?, ?)`,
		rc.UID,
		rc.Name,
		rc.Arch,
		rc.Topic,
		models.StatusKindPending,
	)
	if err != nil {
		return err
	}
	return d.insertStatusEvent(rc.UID, rc.Name, models.StatusKindPending, nil, nil, n)
}

func (d *DB) MarkRunRunning(uid, release string, n *notifier.Notifier) error {
	_, err := d.Exec(
		`update runs set status = ?, started = ? where uid = ?`,
		models.StatusKindRunning, now(), uid,
	)
	if err != nil {
		return err
	}
	return d.insertStatusEvent(uid, release, models.StatusKindRunning, nil, nil, n)
}

func (d *DB) MarkRunFailed(uid, release, runError string, exitCode int64, n *notifier.Notifier) error {
	_, err := d.Exec(
		`update runs set status = ?, error = ?, exit_code = ?, finished = ? where uid = ?`,
		models.StatusKindFailed, runError, exitCode, now(), uid,
	)
	if err != nil {
		return err
	}
	return d.insertStatusEvent(uid, release, models.StatusKindFailed, &runError, &exitCode, n)
}

func (d *DB) MarkRunSucceeded(uid, release string, n *notifier.Notifier) error {
	_, err := d.Exec(
		`update runs set status = ?, finished = ? where uid = ?`,
		models.StatusKindSucceeded, now(), uid,
	)
	if err != nil {
		return err
	}
	return d.insertStatusEvent(uid, release, models.StatusKindSucceeded, nil, nil, n)
}

// SetRunRevision records the configuration clone's HEAD. Advisory:
// callers log failures and move on.
func (d *DB) SetRunRevision(uid, revision string) error {
	_, err := d.Exec(`update runs set revision = ? where uid = ?`, revision, uid)
	return err
}

func (d *DB) GetRun(uid string) (*Run, error) {
	row := d.QueryRow(`
		select uid, release, arch, topic, status, error, exit_code, revision, created, started, finished
		from runs where uid = ?
	`, uid)
	return scanRun(row)
}

func (d *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.Query(`
		select uid, release, arch, topic, status, error, exit_code, revision, created, started, finished
		from runs order by created desc limit ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var errText, revision, started, finished sql.Null[string]
	var exit sql.Null[int64]
	err := row.Scan(
		&run.UID, &run.Release, &run.Arch, &run.Topic, &run.Status,
		&errText, &exit, &revision, &run.Created, &started, &finished,
	)
	if err != nil {
		return nil, err
	}
	if errText.Valid {
		run.Error = &errText.V
	}
	if exit.Valid {
		run.ExitCode = &exit.V
	}
	if revision.Valid {
		run.Revision = &revision.V
	}
	if started.Valid {
		run.Started = &started.V
	}
	if finished.Valid {
		run.Finished = &finished.V
	}
	return &run, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
