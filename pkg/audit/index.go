package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Index is a SQLite read-side mirror of the audit chain. It exists to make
// filtered queries cheap on long logs; the JSONL stream stays the source of
// truth, and the index can always be rebuilt from it.
type Index struct {
	db *sql.DB
}

// NewIndex wraps an open database handle and ensures the schema exists.
func NewIndex(db *sql.DB) (*Index, error) {
	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		return nil, fmt.Errorf("audit index: migrate: %w", err)
	}
	return idx, nil
}

// OpenIndex opens (or creates) an index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit index: open: %w", err)
	}
	return NewIndex(db)
}

// Close releases the underlying database handle.
func (i *Index) Close() error {
	return i.db.Close()
}

func (i *Index) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_entries (
        entry_hash TEXT PRIMARY KEY,
        previous_hash TEXT,
        timestamp DATETIME,
        event_type TEXT,
        phase TEXT,
        actor TEXT,
        action TEXT,
        metadata JSON
    );
    CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_entries (event_type);
    CREATE INDEX IF NOT EXISTS idx_audit_phase ON audit_entries (phase);`
	_, err := i.db.ExecContext(context.Background(), query)
	return err
}

func (i *Index) insert(e Entry) error {
	query := `INSERT OR IGNORE INTO audit_entries (
		entry_hash, previous_hash, timestamp, event_type, phase, actor, action, metadata
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	metaJSON, _ := json.Marshal(e.Metadata)
	var prev sql.NullString
	if e.PreviousHash != nil {
		prev = sql.NullString{String: *e.PreviousHash, Valid: true}
	}

	_, err := i.db.ExecContext(context.Background(), query,
		e.EntryHash, prev, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.EventType, e.Phase, e.Actor, e.Action, string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Rebuild drops the indexed rows and replays every entry from the chain.
func (i *Index) Rebuild(chain *Chain) error {
	if _, err := i.db.ExecContext(context.Background(), `DELETE FROM audit_entries`); err != nil {
		return fmt.Errorf("audit index: reset: %w", err)
	}
	entries, err := chain.EntriesWhere(EntryFilter{})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := i.insert(e); err != nil {
			return err
		}
	}
	return nil
}

// Query returns indexed entries matching the filter in write order.
func (i *Index) Query(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	query := `
        SELECT entry_hash, previous_hash, timestamp, event_type, phase, actor, action, metadata
        FROM audit_entries
        WHERE (? = '' OR event_type = ?)
          AND (? = '' OR phase = ?)
          AND (? = '' OR actor = ?)
        ORDER BY timestamp ASC`
	args := []any{
		filter.EventType, filter.EventType,
		filter.Phase, filter.Phase,
		filter.Actor, filter.Actor,
	}
	if filter.Limit > 0 {
		query += "\n        LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Count returns the number of indexed entries.
func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n)
	return n, err
}

func scanEntryRow(rows *sql.Rows) (Entry, error) {
	var (
		entryHash string
		prevHash  sql.NullString
		timestamp string
		eventType string
		phase     sql.NullString
		actor     string
		action    string
		metaJSON  sql.NullString
	)
	if err := rows.Scan(&entryHash, &prevHash, &timestamp, &eventType, &phase, &actor, &action, &metaJSON); err != nil {
		return Entry{}, err
	}

	var meta map[string]any
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &meta)
	}

	e := Entry{
		Timestamp: parseTimestamp(timestamp),
		EventType: eventType,
		Phase:     phase.String,
		Actor:     actor,
		Action:    action,
		Metadata:  meta,
		EntryHash: entryHash,
	}
	if prevHash.Valid {
		prev := prevHash.String
		e.PreviousHash = &prev
	}
	return e, nil
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
