// Package ledger keeps ingestion bookkeeping (per-image failures and run
// summaries) in a local SQLite database, outside the searchable corpus.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ecom-agents/stylefinder/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS processing_errors (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id     TEXT,
	item_id    INTEGER NOT NULL,
	message    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processing_errors_item ON processing_errors(item_id);

CREATE TABLE IF NOT EXISTS batch_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	processed   INTEGER NOT NULL,
	updated     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	dry_run     INTEGER NOT NULL
);
`

// Ledger is a SQLite-backed run ledger.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the ledger database under dataDir.
func Open(dataDir string) (*Ledger, error) {
	if dataDir == "" {
		dataDir = filepath.Join(".", "data")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "ingestion.db")

	// WAL mode so a concurrent verify read never blocks the batch writer.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return &Ledger{db: db, path: dbPath}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// RecordError appends one ingestion failure. Records are append-only and
// never mutated.
func (l *Ledger) RecordError(ctx context.Context, e core.IngestionError) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO processing_errors (doc_id, item_id, message, created_at) VALUES (?, ?, ?, ?)`,
		e.DocID, e.ItemID, e.Message, e.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording ingestion error: %w", err)
	}
	return nil
}

// RecordRun appends one run summary row.
func (l *Ledger) RecordRun(ctx context.Context, stats core.RunStats) error {
	dryRun := 0
	if stats.DryRun {
		dryRun = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO batch_runs (started_at, finished_at, processed, updated, skipped, failed, dry_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stats.StartedAt.Unix(), stats.FinishedAt.Unix(),
		stats.Processed, stats.Updated, stats.Skipped, stats.Failed, dryRun,
	)
	if err != nil {
		return fmt.Errorf("recording run summary: %w", err)
	}
	return nil
}

// FailedItemIDs returns the distinct item ids that have recorded errors.
func (l *Ledger) FailedItemIDs(ctx context.Context) ([]int64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT item_id FROM processing_errors ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("querying failed item ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ErrorCount returns the total number of recorded failures.
func (l *Ledger) ErrorCount(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processing_errors`).Scan(&n)
	return n, err
}
