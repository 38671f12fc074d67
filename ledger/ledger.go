// Package ledger records the outcome of every patch job so a collection
// run can be inspected after the fact.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/USC-NSL/IMC-25-Artifact/dbopen"
)

// ErrNotFound is returned by Get for an unknown job id.
var ErrNotFound = errors.New("ledger: job not found")

// Status is the outcome of a job.
type Status string

const (
	StatusPatched Status = "patched"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// ParseStatus validates a status filter. Empty is accepted.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case "", StatusPatched, StatusSkipped, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("ledger: unknown status %q", s)
}

// Entry is one job outcome. Times are Unix milliseconds.
type Entry struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Archive    string `json:"archive"`
	Status     Status `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Output     string `json:"output,omitempty"`
	Pairs      int    `json:"pairs"`
	Applied    int    `json:"applied"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

// Filter narrows List. Zero fields match everything; Limit 0 means 100.
type Filter struct {
	Status     Status
	Collection string
	Limit      int
}

// Stats summarises the ledger.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// Store is the ledger database handle.
type Store struct {
	DB     *sql.DB
	driver string
}

// Open opens (or creates) the ledger and applies Schema.
func Open(driver, dsn string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(driver, dsn, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db, driver), nil
}

// New wraps an open database that already carries Schema.
func New(db *sql.DB, driver string) *Store {
	return &Store{DB: db, driver: driver}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != dbopen.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Record inserts e, or replaces the entry with the same id.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := dbopen.Exec(ctx, s.DB, s.rebind(`
		INSERT INTO patch_jobs
			(id, collection, archive, status, reason, output, pairs, applied, started_at, finished_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			output = excluded.output,
			pairs = excluded.pairs,
			applied = excluded.applied,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`),
		e.ID, e.Collection, e.Archive, string(e.Status), e.Reason, e.Output,
		e.Pairs, e.Applied, e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", e.ID, err)
	}
	return nil
}

const selectCols = `SELECT id, collection, archive, status, reason, output, pairs, applied, started_at, finished_at
	FROM patch_jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (Entry, error) {
	var e Entry
	var status string
	err := r.Scan(&e.ID, &e.Collection, &e.Archive, &status, &e.Reason, &e.Output,
		&e.Pairs, &e.Applied, &e.StartedAt, &e.FinishedAt)
	e.Status = Status(status)
	return e, err
}

// Get returns the entry with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(s.DB.QueryRowContext(ctx, s.rebind(selectCols+` WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	return &e, nil
}

// List returns matching entries, most recently finished first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := selectCols
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Collection != "" {
		where = append(where, "collection = ?")
		args = append(args, f.Collection)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY finished_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: list: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats counts entries per status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM patch_jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: stats: %w", err)
	}
	defer rows.Close()

	st := Stats{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("ledger: stats: %w", err)
		}
		st.ByStatus[Status(status)] = n
		st.Total += n
	}
	return st, rows.Err()
}
