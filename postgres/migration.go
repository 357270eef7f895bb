package postgres

import (
	"context"

	"github.com/rotisserie/eris"
)

// EventsChannel is the LISTEN/NOTIFY channel task row changes are sent on.
const EventsChannel = "task_events"

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	kind             TEXT NOT NULL,
	query            TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	stage            TEXT NOT NULL DEFAULT '',
	progress_current INT NOT NULL DEFAULT 0,
	progress_total   INT NOT NULL DEFAULT 0,
	progress_message TEXT NOT NULL DEFAULT '',
	retry_count      INT NOT NULL DEFAULT 0,
	result           JSONB,
	error            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks (status, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks (status, updated_at);
CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks (owner_id, created_at DESC);

CREATE TABLE IF NOT EXISTS contacts (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	task_id          TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL,
	email_normalized TEXT NOT NULL,
	emails           JSONB NOT NULL DEFAULT '[]',
	url              TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_owner_email ON contacts (owner_id, email_normalized);

CREATE OR REPLACE FUNCTION notify_task_event() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('task_events', json_build_object(
		'task_id', NEW.id,
		'owner_id', NEW.owner_id,
		'status', NEW.status,
		'stage', NEW.stage,
		'progress', json_build_object(
			'current', NEW.progress_current,
			'total', NEW.progress_total,
			'message', left(NEW.progress_message, 500)
		),
		'error', left(NEW.error, 1000),
		'updated_at', NEW.updated_at
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS tasks_notify ON tasks;
CREATE TRIGGER tasks_notify AFTER INSERT OR UPDATE ON tasks
	FOR EACH ROW EXECUTE FUNCTION notify_task_event();
`

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}

	return nil
}
