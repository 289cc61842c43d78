package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elonfeng/popradar/pkg/source"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLStore keeps the snapshot in a relational database. Replace runs in a
// single transaction, which gives readers the same all-or-nothing view as
// the file store's rename.
type SQLStore struct {
	db *sqlx.DB
}

type recordRow struct {
	Title    string `db:"title"`
	Platform string `db:"platform"`
	Region   string `db:"region"`
	Metrics  string `db:"metrics"`
	URL      string `db:"url"`
}

// NewSQLite opens a SQLite database and runs migrations.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return newSQLStore(db)
}

// NewPostgres opens a Postgres database through pgx and runs migrations.
func NewPostgres(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres snapshot driver requires a dsn")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(db)
}

func newSQLStore(db *sqlx.DB) (*SQLStore, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Replace(ctx context.Context, records []source.Record, meta Meta) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM workflow_records"); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	insert, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO workflow_records (position, title, platform, region, metrics, url)
		VALUES (?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer insert.Close()

	for i, r := range records {
		metricsJSON, err := json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics for %q: %w", r.Title, err)
		}
		if _, err := insert.ExecContext(ctx, i, r.Title, string(r.Platform), r.Region, string(metricsJSON), r.URL); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot_meta"); err != nil {
		return fmt.Errorf("clear snapshot meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO snapshot_meta (run_id, records, written_at) VALUES (?, ?, ?)"),
		meta.RunID, len(records), meta.WrittenAt.UTC()); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) ([]source.Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT title, platform, region, metrics, url FROM workflow_records ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	records := make([]source.Record, 0, len(rows))
	for _, row := range rows {
		var metrics map[string]float64
		if err := json.Unmarshal([]byte(row.Metrics), &metrics); err != nil {
			return nil, fmt.Errorf("parse metrics for %q: %w", row.Title, err)
		}
		records = append(records, source.Record{
			Title:    row.Title,
			Platform: source.Platform(row.Platform),
			Region:   row.Region,
			Metrics:  metrics,
			URL:      row.URL,
		})
	}
	return records, nil
}

// LastMeta returns the metadata of the current snapshot, or nil when none
// has been written.
func (s *SQLStore) LastMeta(ctx context.Context) (*Meta, error) {
	var metas []Meta
	if err := s.db.SelectContext(ctx, &metas, "SELECT run_id, records, written_at FROM snapshot_meta"); err != nil {
		return nil, fmt.Errorf("load snapshot meta: %w", err)
	}
	if len(metas) == 0 {
		return nil, nil
	}
	return &metas[0], nil
}
