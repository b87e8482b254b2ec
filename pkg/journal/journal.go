// Package journal records every write and failure of a crawl in a SQLite
// database so a long run can be investigated afterwards.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"coursedump/pkg/checkpoint"
	"coursedump/pkg/crawl"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
)

//go:embed schema.sql
var schema string

// ErrNoRun is returned when the journal holds no runs yet
var ErrNoRun = errors.New("journal has no runs")

// Run is one crawl invocation
type Run struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   *time.Time
	ResumeFrom   string
	StartIndex   int
	Scope        string
	Complete     bool
	Aborted      bool
	Files        int
	Failures     int
	Skipped      int
	LastPosition string
}

// Failure is one failed entry and what the policy decided
type Failure struct {
	NodeID    string
	Kind      string
	Name      string
	Locator   string
	Position  string
	ErrorKind string
	Error     string
	Decision  string
	CreatedAt time.Time
}

// Journal is a crawl.Observer that persists events. Write errors never
// interrupt the crawl; the first one is kept and reported by Err.
type Journal struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	runID int64
	err   error
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string, log logger.Logger) (*Journal, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errs.Persistence("create journal directory", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &Journal{
		db:     db,
		logger: log.WithField("journal", path),
		now:    time.Now,
	}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Err returns the first error recorded while observing
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// RunID returns the id of the run started by BeginRun
func (j *Journal) RunID() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runID
}

// BeginRun starts a new run record. Events observed afterwards belong to it.
func (j *Journal) BeginRun(ctx context.Context, resume checkpoint.Position, startIndex int, scope string) (int64, error) {
	from := ""
	if resume != nil {
		from = resume.String()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, resume_from, start_index, scope) VALUES (?, ?, ?, ?)`,
		j.timestamp(), from, startIndex, scope)
	if err != nil {
		return 0, fmt.Errorf("failed to record run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	j.mu.Lock()
	j.runID = id
	j.mu.Unlock()
	return id, nil
}

// FinishRun stores the totals of the current run
func (j *Journal) FinishRun(ctx context.Context, result *crawl.Result) error {
	id := j.RunID()
	if id == 0 {
		return ErrNoRun
	}
	if result == nil {
		result = &crawl.Result{}
	}
	last := ""
	if result.LastPosition != nil {
		last = result.LastPosition.String()
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, complete = ?, aborted = ?, files = ?, failures = ?, skipped = ?, last_position = ? WHERE id = ?`,
		j.timestamp(), result.Complete, result.Aborted, result.Files, result.Failures, result.Skipped, last, id)
	if err != nil {
		return fmt.Errorf("failed to record run result: %w", err)
	}
	return nil
}

func (j *Journal) OnWrite(e crawl.WriteEvent) {
	j.exec(`INSERT INTO writes (run_id, node_id, kind, name, position, path, intended, overflowed, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.RunID(), e.Node.RemoteID, string(e.Node.Kind), e.Node.Label(), e.Position.String(),
		e.Written.Path, e.Written.Intended, e.Written.Overflowed, j.timestamp())
}

// OnSkip is a no-op; skips are counted in the run totals only
func (j *Journal) OnSkip(crawl.SkipEvent) {}

func (j *Journal) OnFailure(e crawl.FailureEvent) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	j.exec(`INSERT INTO failures (run_id, node_id, kind, name, locator, position, error_kind, error, decision, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.RunID(), e.Node.RemoteID, string(e.Node.Kind), e.Node.Label(), e.Node.Locator, e.Position.String(),
		string(errs.KindOf(e.Err)), msg, e.Decision.String(), j.timestamp())
}

func (j *Journal) exec(query string, args ...interface{}) {
	if _, err := j.db.Exec(query, args...); err != nil {
		j.logger.WithError(err).Warn("Failed to write journal entry")
		j.mu.Lock()
		if j.err == nil {
			j.err = err
		}
		j.mu.Unlock()
	}
}

// LastRun returns the most recent run
func (j *Journal) LastRun(ctx context.Context) (*Run, error) {
	runs, err := j.Runs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRun
	}
	return &runs[0], nil
}

// Runs returns up to limit runs, newest first
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, resume_from, start_index, scope, complete, aborted, files, failures, skipped, last_position
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.ResumeFrom, &r.StartIndex, &r.Scope,
			&r.Complete, &r.Aborted, &r.Files, &r.Failures, &r.Skipped, &r.LastPosition); err != nil {
			return nil, fmt.Errorf("failed to read run: %w", err)
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Failures returns the failures of a run in the order they happened
func (j *Journal) Failures(ctx context.Context, runID int64) ([]Failure, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT node_id, kind, name, locator, position, error_kind, error, decision, created_at
		 FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var (
			f       Failure
			created string
		)
		if err := rows.Scan(&f.NodeID, &f.Kind, &f.Name, &f.Locator, &f.Position, &f.ErrorKind, &f.Error, &f.Decision, &created); err != nil {
			return nil, fmt.Errorf("failed to read failure: %w", err)
		}
		f.CreatedAt = parseTime(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// WriteCount returns the number of files recorded for a run
func (j *Journal) WriteCount(ctx context.Context, runID int64) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM writes WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count writes: %w", err)
	}
	return n, nil
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
