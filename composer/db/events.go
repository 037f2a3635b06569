package db

import (
	"encoding/json"
	"fmt"
	"time"

	"kiln.build/core/composer/models"
	"kiln.build/core/notifier"
)

type Event struct {
	UID       string `json:"uid"`
	EventJson string `json:"event"`
	Created   int64  `json:"created"`
}

func (d *DB) InsertEvent(event Event, n *notifier.Notifier) error {
	_, err := d.Exec(
		`insert into events (uid, event, created) values (?, ?, ?)`,
		event.UID,
		event.EventJson,
		event.Created,
	)

	n.NotifyAll()

	return err
}

// GetEvents returns up to 100 journal entries created after cursor
// (unix nanos), oldest first.
func (d *DB) GetEvents(cursor int64) ([]Event, error) {
	whereClause := ""
	args := []any{}
	if cursor > 0 {
		whereClause = "where created > ?"
		args = append(args, cursor)
	}

	query := fmt.Sprintf(`
		select uid, event, created
		from events
		%s
		order by created asc
		limit 100
	`, whereClause)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.UID, &ev.EventJson, &ev.Created); err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evts, nil
}

func (d *DB) insertStatusEvent(
	uid string,
	release string,
	statusKind models.StatusKind,
	runError *string,
	exitCode *int64,
	n *notifier.Notifier,
) error {
	now := time.Now()
	s := models.RunStatus{
		UID:       uid,
		Release:   release,
		Status:    string(statusKind),
		Error:     runError,
		ExitCode:  exitCode,
		CreatedAt: now.Format(time.RFC3339),
	}

	eventJson, err := json.Marshal(s)
	if err != nil {
		return err
	}

	return d.InsertEvent(Event{
		UID:       uid,
		EventJson: string(eventJson),
		Created:   now.UnixNano(),
	}, n)
}
