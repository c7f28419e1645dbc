// Package eventlog persists ledger notifications and streams them to
// subscribers.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"zkbounty/core/types"
)

// Record is a journaled notification. Sequence numbers start at 1 and are
// strictly increasing.
type Record struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Journal is an append-only SQLite table of notifications.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and if needed creates) the journal stored at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite permits a single writer; one connection also keeps ":memory:"
	// databases coherent.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, now: time.Now}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_type_idx ON events(type);`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("eventlog: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append stores evt and returns the journaled record.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (Record, error) {
	if evt == nil {
		return Record{}, errors.New("eventlog: nil event")
	}
	attrs := evt.Clone().Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return Record{}, err
	}
	created := j.now().UTC()
	const stmt = `INSERT INTO events(type, payload, created_at) VALUES (?, ?, ?)`
	res, err := j.db.ExecContext(ctx, stmt, evt.Type, string(payload), created.UnixMilli())
	if err != nil {
		return Record{}, fmt.Errorf("eventlog: append %s: %w", evt.Type, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Record{}, err
	}
	return Record{
		Sequence:   seq,
		Type:       evt.Type,
		Attributes: attrs,
		CreatedAt:  time.UnixMilli(created.UnixMilli()).UTC(),
	}, nil
}

// Since returns records with a sequence greater than cursor in ascending
// order. A non-positive limit returns every remaining record.
func (j *Journal) Since(ctx context.Context, cursor int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	const query = `SELECT sequence, type, payload, created_at FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec     Record
			payload string
			created int64
		)
		if err := rows.Scan(&rec.Sequence, &rec.Type, &payload, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("eventlog: decode record %d: %w", rec.Sequence, err)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the highest journaled sequence, or 0 for an empty journal.
func (j *Journal) Latest(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(sequence), 0) FROM events`
	var seq int64
	if err := j.db.QueryRowContext(ctx, query).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return seq, nil
}
