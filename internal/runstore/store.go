// Package runstore keeps a SQLite registry of training runs.
package runstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("runstore: run not found")

// Run is one registry row.
type Run struct {
	ID           string
	Directory    string
	Architecture string
	Loss         string
	Color        string
	BatchSize    int
	Epochs       int
	MaxLR        float64
	Tag          string
	SaveDir      string
	Status       string
	FinalLoss    float64
	FinalValLoss float64
	StartedAt    time.Time
	FinishedAt   *time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the registry database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open run registry")
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate run registry")
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  directory TEXT NOT NULL,
  architecture TEXT NOT NULL,
  loss TEXT NOT NULL,
  color TEXT NOT NULL,
  batch_size INTEGER NOT NULL DEFAULT 0,
  epochs INTEGER NOT NULL DEFAULT 0,
  max_lr REAL NOT NULL DEFAULT 0,
  tag TEXT NOT NULL DEFAULT '',
  save_dir TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  final_loss REAL NOT NULL DEFAULT 0,
  final_val_loss REAL NOT NULL DEFAULT 0,
  started_at DATETIME NOT NULL,
  finished_at DATETIME
);
`)
	return err
}

// Create inserts r with status running. An empty ID is replaced by a new
// UUID, which is returned.
func (s *Store) Create(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(run_id, directory, architecture, loss, color, batch_size, epochs, max_lr, tag, save_dir, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, r.ID, r.Directory, r.Architecture, r.Loss, r.Color, r.BatchSize, r.Epochs, r.MaxLR, r.Tag, r.SaveDir, StatusRunning, r.StartedAt)
	if err != nil {
		return "", errors.Wrap(err, "insert run")
	}
	return r.ID, nil
}

// SetMaxLR records the chosen maximum learning rate and epoch count.
func (s *Store) SetMaxLR(ctx context.Context, id string, maxLR float64, epochs int) error {
	_, err := s.db.ExecContext(ctx, "UPDATE runs SET max_lr=?, epochs=? WHERE run_id=?;", maxLR, epochs, id)
	return errors.Wrap(err, "update run")
}

// Finish stores the outcome of a run.
func (s *Store) Finish(ctx context.Context, id, status string, finalLoss, finalValLoss float64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status=?, final_loss=?, final_val_loss=?, finished_at=? WHERE run_id=?;
`, status, finalLoss, finalValLoss, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "finish run")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "%s", id)
	}
	return nil
}

const selectRuns = `
SELECT run_id, directory, architecture, loss, color, batch_size, epochs, max_lr, tag, save_dir,
       status, final_loss, final_val_loss, started_at, finished_at
FROM runs`

func scanRun(sc interface{ Scan(...any) error }) (Run, error) {
	var r Run
	err := sc.Scan(&r.ID, &r.Directory, &r.Architecture, &r.Loss, &r.Color, &r.BatchSize, &r.Epochs, &r.MaxLR,
		&r.Tag, &r.SaveDir, &r.Status, &r.FinalLoss, &r.FinalValLoss, &r.StartedAt, &r.FinishedAt)
	return r, err
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+" WHERE run_id=?;", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, errors.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return Run{}, errors.Wrap(err, "get run")
	}
	return r, nil
}

// List returns runs, newest first, optionally filtered by architecture.
func (s *Store) List(ctx context.Context, architecture string) ([]Run, error) {
	query := selectRuns
	var args []any
	if architecture != "" {
		query += " WHERE architecture=?"
		args = append(args, architecture)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY started_at DESC;", args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "list runs")
}
