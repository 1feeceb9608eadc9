package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agentkit/internal/domain"
)

// SQLiteStore implements domain.UsageStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.UsageStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_records (
			id                TEXT PRIMARY KEY,
			run_id            TEXT NOT NULL DEFAULT '',
			user              TEXT NOT NULL DEFAULT '',
			model             TEXT NOT NULL,
			provider          TEXT NOT NULL DEFAULT '',
			prompt_tokens     INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens      INTEGER NOT NULL,
			cost              REAL NOT NULL,
			timestamp         TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records (timestamp);
		CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records (model);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record inserts one usage record.
func (s *SQLiteStore) Record(_ context.Context, rec *domain.UsageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_records
			(id, run_id, user, model, provider, prompt_tokens, completion_tokens, total_tokens, cost, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.User, rec.Model, rec.Provider,
		rec.Usage.PromptTokens, rec.Usage.CompletionTokens, rec.Usage.TotalTokens,
		rec.Cost, rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Query returns records matching the filter, oldest first. GroupBy is an
// aggregation concern and is ignored here.
func (s *SQLiteStore) Query(_ context.Context, filter domain.UsageFilter) ([]domain.UsageRecord, error) {
	var conds []string
	var args []any

	if filter.Model != "" {
		conds = append(conds, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.User != "" {
		conds = append(conds, "user = ?")
		args = append(args, filter.User)
	}
	if filter.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}

	query := `SELECT id, run_id, user, model, provider, prompt_tokens, completion_tokens, total_tokens, cost, timestamp
		FROM usage_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		var ts string
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.User, &rec.Model, &rec.Provider,
			&rec.Usage.PromptTokens, &rec.Usage.CompletionTokens, &rec.Usage.TotalTokens,
			&rec.Cost, &ts,
		); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}
