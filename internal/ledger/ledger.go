// Package ledger records sync runs and the transfers they performed in a
// SQLite database, for the status command and for auditing what a watch
// session did.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tonimelisma/savesync/internal/cloud"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoRuns is returned by LastRun for a provider that never synced.
var ErrNoRuns = errors.New("ledger: no runs recorded")

// Direction of a transfer.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "failed"
)

const (
	sqlInsertRun = `INSERT INTO runs (id, provider, started_at) VALUES (?, ?, ?)`

	sqlFinishRun = `UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`

	sqlInsertTransfer = `INSERT INTO transfers
		(run_id, provider, role, name, direction, hash_type, hash, size, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlCountUpload   = `UPDATE runs SET uploads = uploads + 1 WHERE id = ?`
	sqlCountDownload = `UPDATE runs SET downloads = downloads + 1 WHERE id = ?`

	sqlRecent = `SELECT run_id, provider, role, name, direction, hash_type, hash, size, at
		FROM transfers WHERE provider = ? ORDER BY at DESC, id DESC LIMIT ?`

	sqlLastRun = `SELECT id, provider, started_at, finished_at, status, error, uploads, downloads
		FROM runs WHERE provider = ? ORDER BY started_at DESC LIMIT 1`
)

// Transfer is one file moved by a run.
type Transfer struct {
	RunID     string
	Provider  string
	Role      cloud.Role
	Name      string
	Direction Direction
	HashType  cloud.HashType
	Hash      string
	Size      int64
	At        time.Time
}

// Run summarizes one sync run.
type Run struct {
	ID         string
	Provider   string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     RunStatus
	Error      string
	Uploads    int
	Downloads  int
}

// Ledger is the run and transfer store. It is safe for concurrent use.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("path", path))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ledger: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun records the start of a run and returns its id.
func (l *Ledger) BeginRun(ctx context.Context, provider string) (string, error) {
	id := uuid.NewString()

	if _, err := l.db.ExecContext(ctx, sqlInsertRun, id, provider, l.nowFunc().UnixNano()); err != nil {
		return "", fmt.Errorf("ledger: beginning run: %w", err)
	}

	return id, nil
}

// RecordTransfer stores t and bumps its run's counter atomically.
func (l *Ledger) RecordTransfer(ctx context.Context, t Transfer) error {
	at := t.At
	if at.IsZero() {
		at = l.nowFunc()
	}

	counter := sqlCountUpload
	if t.Direction == Download {
		counter = sqlCountDownload
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, sqlInsertTransfer,
		t.RunID, t.Provider, string(t.Role), t.Name, string(t.Direction),
		t.HashType.String(), t.Hash, t.Size, at.UnixNano(),
	); err != nil {
		return fmt.Errorf("ledger: recording transfer %s: %w", t.Name, err)
	}

	if _, err := tx.ExecContext(ctx, counter, t.RunID); err != nil {
		return fmt.Errorf("ledger: counting transfer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: committing transfer: %w", err)
	}

	return nil
}

// FinishRun closes a run. A non-nil runErr marks it failed.
func (l *Ledger) FinishRun(ctx context.Context, runID string, runErr error) error {
	status := RunOK

	var msg sql.NullString
	if runErr != nil {
		status = RunFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := l.db.ExecContext(ctx, sqlFinishRun, l.nowFunc().UnixNano(), string(status), msg, runID)
	if err != nil {
		return fmt.Errorf("ledger: finishing run %s: %w", runID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger: finishing run %s: no such run", runID)
	}

	return nil
}

// Recent returns up to limit transfers for provider, newest first.
func (l *Ledger) Recent(ctx context.Context, provider string, limit int) ([]Transfer, error) {
	rows, err := l.db.QueryContext(ctx, sqlRecent, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer

	for rows.Next() {
		var (
			t         Transfer
			role, dir string
			hashType  string
			at        int64
		)

		if err := rows.Scan(&t.RunID, &t.Provider, &role, &t.Name, &dir, &hashType, &t.Hash, &t.Size, &at); err != nil {
			return nil, fmt.Errorf("ledger: scanning transfer: %w", err)
		}

		t.Role = cloud.Role(role)
		t.Direction = Direction(dir)
		t.At = time.Unix(0, at)

		if t.HashType, err = cloud.ParseHashType(hashType); err != nil {
			l.logger.Warn("unknown hash type in ledger", slog.String("hash_type", hashType))
		}

		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating transfers: %w", err)
	}

	return out, nil
}

// LastRun returns the most recently started run for provider.
func (l *Ledger) LastRun(ctx context.Context, provider string) (*Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
		status   string
		errMsg   sql.NullString
	)

	err := l.db.QueryRowContext(ctx, sqlLastRun, provider).Scan(
		&r.ID, &r.Provider, &started, &finished, &status, &errMsg, &r.Uploads, &r.Downloads,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for %s", ErrNoRuns, provider)
	}

	if err != nil {
		return nil, fmt.Errorf("ledger: querying last run: %w", err)
	}

	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}

	r.Status = RunStatus(status)
	r.Error = errMsg.String

	return &r, nil
}
