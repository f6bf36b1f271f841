package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version records how many
// have run.
var migrations = []string{
	`CREATE TABLE issues (
		id                  TEXT PRIMARY KEY,
		content_hash        TEXT NOT NULL DEFAULT '',
		title               TEXT NOT NULL,
		description         TEXT NOT NULL DEFAULT '',
		design              TEXT NOT NULL DEFAULT '',
		acceptance_criteria TEXT NOT NULL DEFAULT '',
		notes               TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL,
		priority            INTEGER NOT NULL,
		issue_type          TEXT NOT NULL,
		assignee            TEXT NOT NULL DEFAULT '',
		owner               TEXT NOT NULL DEFAULT '',
		created_by          TEXT NOT NULL DEFAULT '',
		estimated_minutes   INTEGER,
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER NOT NULL,
		closed_at           INTEGER,
		close_reason        TEXT NOT NULL DEFAULT '',
		due_at              INTEGER,
		defer_until         INTEGER,
		external_ref        TEXT NOT NULL DEFAULT '',
		source_system       TEXT NOT NULL DEFAULT '',
		ephemeral           INTEGER NOT NULL DEFAULT 0,
		pinned              INTEGER NOT NULL DEFAULT 0,
		is_template         INTEGER NOT NULL DEFAULT 0,
		deleted_at          INTEGER,
		deleted_by          TEXT NOT NULL DEFAULT '',
		delete_reason       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX idx_issues_status ON issues(status);
	CREATE INDEX idx_issues_priority ON issues(priority);

	CREATE TABLE labels (
		issue_id TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		label    TEXT NOT NULL,
		PRIMARY KEY (issue_id, label)
	);
	CREATE INDEX idx_labels_label ON labels(label);

	CREATE TABLE comments (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id   TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		author     TEXT NOT NULL DEFAULT '',
		text       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_comments_issue ON comments(issue_id);

	CREATE TABLE dependencies (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id      TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
		depends_on_id TEXT NOT NULL,
		type          TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		created_by    TEXT NOT NULL DEFAULT '',
		metadata      TEXT NOT NULL DEFAULT '',
		thread_id     TEXT NOT NULL DEFAULT '',
		UNIQUE (issue_id, depends_on_id)
	);
	CREATE INDEX idx_dependencies_target ON dependencies(depends_on_id);

	CREATE TABLE events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id   TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		actor      TEXT NOT NULL DEFAULT '',
		old_value  TEXT,
		new_value  TEXT,
		comment    TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_events_issue ON events(issue_id);`,
}

// migrate brings the schema up to date inside one transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("schema version %d is newer than this build supports (%d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
	}
	if version == len(migrations) {
		return nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return tx.Commit()
}
