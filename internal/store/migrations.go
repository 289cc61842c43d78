package store

// Statements are kept separate so the same schema runs on SQLite and on
// Postgres, whose extended protocol rejects multi-statement Exec.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflow_records (
    position INTEGER NOT NULL,
    title    TEXT NOT NULL,
    platform TEXT NOT NULL,
    region   TEXT NOT NULL,
    metrics  TEXT NOT NULL DEFAULT '{}',
    url      TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_records_position ON workflow_records(position)`,
	`CREATE TABLE IF NOT EXISTS snapshot_meta (
    run_id     TEXT NOT NULL,
    records    INTEGER NOT NULL DEFAULT 0,
    written_at TIMESTAMP NOT NULL
)`,
}
