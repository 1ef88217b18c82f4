// database/progress_store.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// ProgressStore holds one row per feed recording how far it has been
// synchronised.
type ProgressStore struct {
	db     *DB
	logger *slog.Logger
}

func NewProgressStore(db *DB, logger *slog.Logger) *ProgressStore {
	return &ProgressStore{db: db, logger: utils.Component(logger, "Database")}
}

// Get returns the progress of feed. A feed with no row yet comes back with
// both timestamps nil; the row is created on the first Save.
func (s *ProgressStore) Get(ctx context.Context, feed string) (models.ProgressRecord, error) {
	var rec models.ProgressRecord
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = getProgressTx(ctx, tx, feed)
		return err
	})
	if err != nil {
		return models.ProgressRecord{}, fmt.Errorf("failed to get progress for %s: %w", feed, err)
	}
	return rec, nil
}

// List returns every stored progress row ordered by feed name.
func (s *ProgressStore) List(ctx context.Context) ([]models.ProgressRecord, error) {
	var out []models.ProgressRecord
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT item_name, progress_timestamp, last_checked_date FROM workflow_progress ORDER BY item_name`)
		if err != nil {
			return fmt.Errorf("failed to query workflow_progress: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				rec               models.ProgressRecord
				progress, checked sql.NullTime
			)
			if err := rows.Scan(&rec.ItemName, &progress, &checked); err != nil {
				return fmt.Errorf("failed to scan workflow_progress row: %w", err)
			}
			rec.ProgressTimestamp = timePtr(progress)
			rec.LastCheckedDate = timePtr(checked)
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// Save upserts rec as given. Callers that want the monotonic rule use
// UpdateProgress.
func (s *ProgressStore) Save(ctx context.Context, rec models.ProgressRecord) error {
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveTx(ctx, tx, rec)
	})
	if err != nil {
		s.logger.Error("failed to save progress", "item", rec.ItemName, "error", err)
		return fmt.Errorf("failed to save progress for %s: %w", rec.ItemName, err)
	}
	return nil
}

// UpdateProgress records that feed was checked at checked and, if latest is
// strictly later than the stored progress timestamp, advances it. Both
// happen in one transaction. It reports whether the timestamp moved.
func (s *ProgressStore) UpdateProgress(ctx context.Context, feed string, checked time.Time, latest *time.Time) (bool, error) {
	var advanced bool
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getProgressTx(ctx, tx, feed)
		if err != nil {
			return err
		}
		rec.RecordChecked(utils.NaiveUTC(checked))
		if latest != nil {
			advanced = rec.RecordSuccess(utils.NaiveUTC(*latest))
		}
		return s.saveTx(ctx, tx, rec)
	})
	if err != nil {
		s.logger.Error("failed to update progress", "item", feed, "error", err)
		return false, fmt.Errorf("failed to update progress for %s: %w", feed, err)
	}

	if advanced {
		s.logger.Info("progress advanced", "item", feed, "progress", *latest)
	} else {
		s.logger.Debug("progress checked", "item", feed, "checked", checked)
	}
	return advanced, nil
}

func getProgressTx(ctx context.Context, tx *sql.Tx, feed string) (models.ProgressRecord, error) {
	rec := models.ProgressRecord{ItemName: feed}
	var progress, checked sql.NullTime
	err := tx.QueryRowContext(ctx,
		`SELECT progress_timestamp, last_checked_date FROM workflow_progress WHERE item_name = ?`, feed).
		Scan(&progress, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("failed to query workflow_progress: %w", err)
	}
	rec.ProgressTimestamp = timePtr(progress)
	rec.LastCheckedDate = timePtr(checked)
	return rec, nil
}

func (s *ProgressStore) saveTx(ctx context.Context, tx *sql.Tx, rec models.ProgressRecord) error {
	query := `
		INSERT INTO workflow_progress (item_name, progress_timestamp, last_checked_date)
		VALUES (?, ?, ?)
		ON CONFLICT(item_name) DO UPDATE SET
			progress_timestamp = excluded.progress_timestamp,
			last_checked_date = excluded.last_checked_date`
	if s.db.Dialect == DialectMySQL {
		query = `
		INSERT INTO workflow_progress (item_name, progress_timestamp, last_checked_date)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			progress_timestamp = VALUES(progress_timestamp),
			last_checked_date = VALUES(last_checked_date)`
	}
	if _, err := tx.ExecContext(ctx, query,
		rec.ItemName, nullTime(rec.ProgressTimestamp), nullTime(rec.LastCheckedDate)); err != nil {
		return fmt.Errorf("failed to upsert workflow_progress: %w", err)
	}
	return nil
}
