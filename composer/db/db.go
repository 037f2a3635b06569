package db

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists runs (
			uid text primary key,
			release text not null,
			arch text not null default '',
			topic text not null default '',
			status text not null,
			error text,
			exit_code integer,
			revision text,
			created text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			started text,
			finished text
		);

		-- status transition journal, streamed over /events
		create table if not exists events (
			uid text not null,
			event text not null, -- json
			created integer not null -- unix nanos
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}
