// Package history keeps a sqlite ledger of executed iterations for the status
// views and usage totals.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sukria/koan-sub002/internal/domain"
)

// FileName is the ledger database under the instance root
const FileName = "history.db"

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when an iteration id is unknown
var ErrNotFound = errors.New("iteration not found")

// Store provides SQLite-backed iteration persistence
type Store struct {
	db *sql.DB
}

// Outcome is what Finish records once an iteration completes
type Outcome struct {
	TokensInput    int64
	TokensOutput   int64
	QuotaExhausted bool
	Error          string
}

// New creates a Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Open opens the ledger of an instance root
func Open(root string) (*Store, error) {
	return New(filepath.Join(root, FileName))
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a started iteration. An empty ID is filled in.
func (s *Store) Record(it *domain.Iteration) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.StartedAt.IsZero() {
		it.StartedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO iterations (id, started_at, finished_at, action, mode, project, mission, available_pct, input_tokens, output_tokens, quota_exhausted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		it.ID,
		formatTime(it.StartedAt),
		formatTimePtr(it.FinishedAt),
		string(it.Action),
		string(it.Mode),
		it.Project,
		it.Mission,
		it.AvailablePct,
		it.TokensInput,
		it.TokensOutput,
		it.QuotaExhausted,
		it.Error,
	)
	if err != nil {
		return fmt.Errorf("recording iteration: %w", err)
	}
	return nil
}

// Finish stamps the end of an iteration with its outcome
func (s *Store) Finish(id string, finishedAt time.Time, out Outcome) error {
	res, err := s.db.Exec(`
		UPDATE iterations
		SET finished_at = ?, input_tokens = ?, output_tokens = ?, quota_exhausted = ?, error = ?
		WHERE id = ?
	`, formatTime(finishedAt), out.TokensInput, out.TokensOutput, out.QuotaExhausted, out.Error, id)
	if err != nil {
		return fmt.Errorf("finishing iteration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectColumns = `SELECT id, started_at, finished_at, action, mode, project, mission, available_pct, input_tokens, output_tokens, quota_exhausted, error FROM iterations`

// Get retrieves an iteration by ID
func (s *Store) Get(id string) (*domain.Iteration, error) {
	rows, err := s.db.Query(selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return scanIteration(rows)
}

// Recent returns up to limit iterations, newest first
func (s *Store) Recent(limit int) ([]*domain.Iteration, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(selectColumns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Iteration
	for rows.Next() {
		it, err := scanIteration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountSince returns how many iterations started at or after since
func (s *Store) CountSince(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM iterations WHERE started_at >= ?`, formatTime(since)).Scan(&n)
	return n, err
}

// TotalsSince aggregates the iterations started at or after since
func (s *Store) TotalsSince(since time.Time) (domain.UsageTotals, error) {
	var t domain.UsageTotals
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(CASE WHEN quota_exhausted THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error IS NOT NULL AND error != '' THEN 1 ELSE 0 END), 0)
		FROM iterations WHERE started_at >= ?
	`, string(domain.ActionMission), formatTime(since)).Scan(
		&t.Iterations, &t.TokensInput, &t.TokensOutput, &t.QuotaPauses, &t.MissionsRun, &t.Errors)
	if err != nil {
		return t, fmt.Errorf("summing iterations: %w", err)
	}
	return t, nil
}

func scanIteration(rows *sql.Rows) (*domain.Iteration, error) {
	var it domain.Iteration
	var started string
	var finished, project, mission, errText sql.NullString
	var action, mode string

	err := rows.Scan(&it.ID, &started, &finished, &action, &mode, &project, &mission,
		&it.AvailablePct, &it.TokensInput, &it.TokensOutput, &it.QuotaExhausted, &errText)
	if err != nil {
		return nil, err
	}

	it.Action = domain.Action(action)
	it.Mode = domain.Mode(mode)
	it.Project = project.String
	it.Mission = mission.String
	it.Error = errText.String

	if it.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if finished.Valid && finished.String != "" {
		ft, err := parseTime(finished.String)
		if err != nil {
			return nil, err
		}
		it.FinishedAt = &ft
	}
	return &it, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
