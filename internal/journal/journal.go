package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/andresuchdata/thumbnailer/internal/domain"
	"github.com/andresuchdata/thumbnailer/internal/pipeline"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

const schema = `
CREATE TABLE IF NOT EXISTS thumbnail_runs (
	invocation_id TEXT PRIMARY KEY,
	event_id      TEXT NOT NULL,
	source_bucket TEXT NOT NULL,
	source_key    TEXT NOT NULL,
	destinations  TEXT NOT NULL,
	success       BOOLEAN NOT NULL,
	skipped       BOOLEAN NOT NULL,
	state         TEXT NOT NULL,
	reached       TEXT NOT NULL,
	failed_stage  TEXT NOT NULL,
	error_kind    TEXT NOT NULL,
	error_message TEXT NOT NULL,
	started_at    TIMESTAMP NOT NULL,
	duration_ms   BIGINT NOT NULL
)`

// Run is one row of thumbnail_runs.
type Run struct {
	InvocationID string    `db:"invocation_id" json:"invocation_id"`
	EventID      string    `db:"event_id" json:"event_id"`
	SourceBucket string    `db:"source_bucket" json:"source_bucket"`
	SourceKey    string    `db:"source_key" json:"source_key"`
	Destinations string    `db:"destinations" json:"destinations"`
	Success      bool      `db:"success" json:"success"`
	Skipped      bool      `db:"skipped" json:"skipped"`
	State        string    `db:"state" json:"state"`
	Reached      string    `db:"reached" json:"reached"`
	FailedStage  string    `db:"failed_stage" json:"failed_stage"`
	ErrorKind    string    `db:"error_kind" json:"error_kind"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
	DurationMS   int64     `db:"duration_ms" json:"duration_ms"`
}

// Source returns the source address of the run.
func (r Run) Source() domain.ObjectAddress {
	return domain.NewObjectAddress(r.SourceBucket, r.SourceKey)
}

// DestinationAddresses decodes the stored destination list.
func (r Run) DestinationAddresses() ([]domain.ObjectAddress, error) {
	var out []domain.ObjectAddress
	if err := json.Unmarshal([]byte(r.Destinations), &out); err != nil {
		return nil, fmt.Errorf("decode destinations: %w", err)
	}
	return out, nil
}

// SQLJournal appends invocation results to thumbnail_runs.
type SQLJournal struct {
	db  *sqlx.DB
	sem *semaphore.Weighted
}

// Open connects using one of the registered drivers.
func Open(driver, dsn string) (*sqlx.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "", DriverPostgres:
		driver = DriverPostgres
	case DriverPgx:
	default:
		return nil, fmt.Errorf("unknown journal driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("journal dsn must be provided")
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect journal database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// New wraps db. At most maxConcurrent writes run at once.
func New(db *sqlx.DB, maxConcurrent int64) *SQLJournal {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &SQLJournal{
		db:  db,
		sem: semaphore.NewWeighted(maxConcurrent),
	}
}

// EnsureSchema creates thumbnail_runs if needed.
func (j *SQLJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create thumbnail_runs: %w", err)
	}
	return nil
}

// Record inserts res. A repeated invocation ID is ignored.
func (j *SQLJournal) Record(ctx context.Context, res *pipeline.Result) error {
	if res == nil {
		return nil
	}
	if err := j.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer j.sem.Release(1)

	run, err := runFromResult(res)
	if err != nil {
		return err
	}

	query := j.db.Rebind(`
		INSERT INTO thumbnail_runs (
			invocation_id, event_id, source_bucket, source_key, destinations,
			success, skipped, state, reached, failed_stage,
			error_kind, error_message, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (invocation_id) DO NOTHING
	`)

	_, err = j.db.ExecContext(ctx, query,
		run.InvocationID, run.EventID, run.SourceBucket, run.SourceKey, run.Destinations,
		run.Success, run.Skipped, run.State, run.Reached, run.FailedStage,
		run.ErrorKind, run.ErrorMessage, run.StartedAt, run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert thumbnail run: %w", err)
	}

	log.Debug().Str("invocation_id", run.InvocationID).Bool("success", run.Success).Msg("journaled invocation")
	return nil
}

// Recent returns the latest runs, newest first.
func (j *SQLJournal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []Run
	query := j.db.Rebind(`SELECT * FROM thumbnail_runs ORDER BY started_at DESC, invocation_id LIMIT ?`)
	if err := j.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("select recent runs: %w", err)
	}
	return runs, nil
}

// ByEvent returns every run recorded for an event, oldest first.
func (j *SQLJournal) ByEvent(ctx context.Context, eventID string) ([]Run, error) {
	var runs []Run
	query := j.db.Rebind(`SELECT * FROM thumbnail_runs WHERE event_id = ? ORDER BY started_at, invocation_id`)
	if err := j.db.SelectContext(ctx, &runs, query, eventID); err != nil {
		return nil, fmt.Errorf("select runs for event: %w", err)
	}
	return runs, nil
}

func (j *SQLJournal) Close() error {
	return j.db.Close()
}

func runFromResult(res *pipeline.Result) (Run, error) {
	dests := res.Destinations
	if dests == nil {
		dests = []domain.ObjectAddress{}
	}
	encoded, err := json.Marshal(dests)
	if err != nil {
		return Run{}, fmt.Errorf("encode destinations: %w", err)
	}

	run := Run{
		InvocationID: res.InvocationID,
		EventID:      res.EventID,
		SourceBucket: res.Source.Bucket,
		SourceKey:    res.Source.Key,
		Destinations: string(encoded),
		Success:      res.Success,
		Skipped:      res.Skipped,
		State:        string(res.State),
		Reached:      string(res.Reached),
		FailedStage:  res.FailedStage,
		ErrorKind:    string(res.ErrKind),
		StartedAt:    res.StartedAt.UTC(),
		DurationMS:   res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		run.ErrorMessage = res.Err.Error()
	}
	return run, nil
}

var _ pipeline.Journal = (*SQLJournal)(nil)
