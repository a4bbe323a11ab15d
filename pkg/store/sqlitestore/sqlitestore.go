// Package sqlitestore stores model records in SQLite, one row per model name.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hed1ad/bdistml/internal/logging"
	"github.com/hed1ad/bdistml/pkg/detectors/balanced"
	"github.com/hed1ad/bdistml/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	name                     TEXT PRIMARY KEY,
	initial_normal_features  INTEGER NOT NULL,
	threshold_learning       REAL NOT NULL,
	threshold_classification REAL NOT NULL,
	pruning_parameter        REAL NOT NULL,
	balanced_distribution    BLOB NOT NULL,
	run_id                   TEXT,
	features_used            INTEGER,
	start_at                 TEXT,
	end_at                   TEXT
);
`

var _ store.Store = (*Store)(nil)

// Store is a SQLite backed store.Store.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database and runs migrations.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	logging.FromContext(ctx).Debugf("opening sqlite store %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts rec under name.
func (s *Store) Save(ctx context.Context, name string, rec *balanced.Record) error {
	if err := store.CheckSave(name, rec); err != nil {
		return err
	}

	dataset, err := store.EncodeDataset(rec.BalancedDistribution)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO models (name, initial_normal_features, threshold_learning, threshold_classification,
		                     pruning_parameter, balanced_distribution, run_id, features_used, start_at, end_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			initial_normal_features  = excluded.initial_normal_features,
			threshold_learning       = excluded.threshold_learning,
			threshold_classification = excluded.threshold_classification,
			pruning_parameter        = excluded.pruning_parameter,
			balanced_distribution    = excluded.balanced_distribution,
			run_id                   = excluded.run_id,
			features_used            = excluded.features_used,
			start_at                 = excluded.start_at,
			end_at                   = excluded.end_at`,
		name,
		rec.InitialNormalFeatures,
		rec.ThresholdLearning,
		rec.ThresholdClassification,
		rec.PruningParameter,
		dataset,
		rec.Metadata.RunID,
		rec.Metadata.FeaturesUsed,
		formatTime(rec.Metadata.Start),
		formatTime(rec.Metadata.End),
	)
	if err != nil {
		return fmt.Errorf("save model %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logging.FromContext(ctx).Infof("saved model %q with %d entries", name, len(rec.BalancedDistribution))
	return nil
}

// Load reads the row for name.
func (s *Store) Load(ctx context.Context, name string) (*balanced.Record, error) {
	var (
		rec          balanced.Record
		dataset      []byte
		runID        sql.NullString
		featuresUsed sql.NullInt64
		startAt      sql.NullString
		endAt        sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT initial_normal_features, threshold_learning, threshold_classification, pruning_parameter,
		        balanced_distribution, run_id, features_used, start_at, end_at
		 FROM models WHERE name = ?`, name,
	).Scan(
		&rec.InitialNormalFeatures,
		&rec.ThresholdLearning,
		&rec.ThresholdClassification,
		&rec.PruningParameter,
		&dataset,
		&runID,
		&featuresUsed,
		&startAt,
		&endAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load model %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", name, err)
	}

	if rec.BalancedDistribution, err = store.DecodeDataset(dataset); err != nil {
		return nil, fmt.Errorf("load model %q: %w", name, err)
	}

	rec.Metadata.RunID = runID.String
	rec.Metadata.FeaturesUsed = int(featuresUsed.Int64)
	if rec.Metadata.Start, err = parseTime(startAt); err != nil {
		return nil, fmt.Errorf("load model %q: parse start: %w", name, err)
	}
	if rec.Metadata.End, err = parseTime(endAt); err != nil {
		return nil, fmt.Errorf("load model %q: parse end: %w", name, err)
	}

	return &rec, nil
}

// Exists reports whether a row exists for name.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM models WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("exists %q: %w", name, err)
	}
	return n > 0, nil
}

// Delete removes the row for name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}
