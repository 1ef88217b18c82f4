// database/file_store.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// InsertOutcome says what Insert did with a record.
type InsertOutcome int

const (
	InsertCreated InsertOutcome = iota
	// InsertSkipped: a row with the same name, path and hash already exists.
	InsertSkipped
	// InsertRepaired: a row with the same name and path existed with a
	// different hash and was updated in place.
	InsertRepaired
)

func (o InsertOutcome) String() string {
	switch o {
	case InsertCreated:
		return "created"
	case InsertSkipped:
		return "skipped"
	case InsertRepaired:
		return "repaired"
	}
	return "unknown"
}

const fileColumns = `id, name, path, version, hash, size, content_date,
	creation_date, last_modified_date, deletion_date, software_version`

// FileStore is the index of files held in the datastore.
type FileStore struct {
	db     *DB
	clock  utils.Clock
	logger *slog.Logger
}

func NewFileStore(db *DB, clock utils.Clock, logger *slog.Logger) *FileStore {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &FileStore{db: db, clock: clock, logger: utils.Component(logger, "Database")}
}

// Insert adds rec unless a row with the same name and path exists. An
// existing live row with the same hash is left alone; otherwise the row has
// its hash, size and version repaired. rec.ID and the timestamps are
// filled in from the stored row.
func (s *FileStore) Insert(ctx context.Context, rec *models.FileRecord) (InsertOutcome, error) {
	var outcome InsertOutcome
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		outcome, err = s.insertTx(ctx, tx, rec)
		return err
	})
	if err != nil {
		s.logger.Error("failed to insert file", "path", rec.Path, "error", err)
		return outcome, fmt.Errorf("failed to insert file %s: %w", rec.Path, err)
	}

	switch outcome {
	case InsertSkipped:
		s.logger.Info("file already exists in database, skipping", "path", rec.Path)
	case InsertRepaired:
		s.logger.Warn("file already in database with a different hash, updated in place", "path", rec.Path, "hash", rec.Hash)
	default:
		s.logger.Debug("file inserted", "path", rec.Path, "id", rec.ID, "version", rec.Version)
	}
	return outcome, nil
}

func (s *FileStore) insertTx(ctx context.Context, tx *sql.Tx, rec *models.FileRecord) (InsertOutcome, error) {
	existing, err := scanFile(tx.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE name = ? AND path = ?`, rec.Name, rec.Path))
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return InsertCreated, fmt.Errorf("failed to look up existing file: %w", err)
	case existing.Hash == rec.Hash && !existing.IsDeleted():
		*rec = existing
		return InsertSkipped, nil
	default:
		// A soft-deleted row whose bytes were written again is revived.
		now := s.clock.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE files SET hash = ?, size = ?, version = ?, last_modified_date = ?, deletion_date = NULL WHERE id = ?`,
			rec.Hash, rec.Size, rec.Version, now.UTC(), existing.ID); err != nil {
			return InsertRepaired, fmt.Errorf("failed to update file hash: %w", err)
		}
		existing.Hash, existing.Size, existing.Version = rec.Hash, rec.Size, rec.Version
		existing.LastModifiedDate = now
		existing.DeletionDate = nil
		*rec = existing
		return InsertRepaired, nil
	}

	now := s.clock.Now()
	if rec.CreationDate.IsZero() {
		rec.CreationDate = now
	}
	rec.LastModifiedDate = now

	res, err := tx.ExecContext(ctx, `
		INSERT INTO files (name, path, version, hash, size, content_date,
			creation_date, last_modified_date, deletion_date, software_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Path, rec.Version, rec.Hash, rec.Size, nullTime(rec.ContentDate),
		rec.CreationDate.UTC(), rec.LastModifiedDate.UTC(), nullTime(rec.DeletionDate), rec.SoftwareVersion)
	if err != nil {
		return InsertCreated, fmt.Errorf("failed to insert row: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return InsertCreated, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return InsertCreated, nil
}

// QueryByPattern returns every record, deleted or not, whose name matches
// pattern and whose path sits directly in folder. The LIKE prefilter can
// match names from sibling identities and folders, so both are re-checked.
func (s *FileStore) QueryByPattern(ctx context.Context, pattern *paths.Pattern, folder string) ([]models.FileRecord, error) {
	var out []models.FileRecord
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE name LIKE ? ESCAPE '`+paths.LikeEscape+`' ORDER BY version, id`,
			pattern.Like())
		if err != nil {
			return fmt.Errorf("failed to query files: %w", err)
		}
		candidates, err := scanFiles(rows)
		if err != nil {
			return err
		}

		re := pattern.Regexp()
		for _, rec := range candidates {
			if !re.MatchString(rec.Name) || path.Dir(rec.Path) != folder {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("queried files by pattern", "pattern", pattern.String(), "folder", folder, "matches", len(out))
	return out, nil
}

// Since returns live records modified strictly after ts, oldest first, at
// most limit of them (no limit when limit <= 0).
func (s *FileStore) Since(ctx context.Context, ts time.Time, limit int) ([]models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE last_modified_date > ? AND deletion_date IS NULL
		ORDER BY last_modified_date, id`
	args := []any{ts.UTC()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var out []models.FileRecord
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query files since %s: %w", ts, err)
		}
		out, err = scanFiles(rows)
		return err
	})
	return out, err
}

// SoftDelete marks rec deleted at when. The row is kept.
func (s *FileStore) SoftDelete(ctx context.Context, rec *models.FileRecord, when time.Time) error {
	rec.SetDeleted(when)
	return s.Save(ctx, rec)
}

// Save writes every column of rec, inserting it if it has no ID yet.
func (s *FileStore) Save(ctx context.Context, rec *models.FileRecord) error {
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if rec.ID == 0 {
			_, err := s.insertTx(ctx, tx, rec)
			return err
		}
		rec.LastModifiedDate = s.clock.Now()
		res, err := tx.ExecContext(ctx, `
			UPDATE files SET name = ?, path = ?, version = ?, hash = ?, size = ?,
				content_date = ?, creation_date = ?, last_modified_date = ?,
				deletion_date = ?, software_version = ?
			WHERE id = ?`,
			rec.Name, rec.Path, rec.Version, rec.Hash, rec.Size, nullTime(rec.ContentDate),
			rec.CreationDate.UTC(), rec.LastModifiedDate.UTC(), nullTime(rec.DeletionDate),
			rec.SoftwareVersion, rec.ID)
		if err != nil {
			return fmt.Errorf("failed to update file %d: %w", rec.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("file %d: %w", rec.ID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to save file", "path", rec.Path, "error", err)
	}
	return err
}

// GetByPath returns the record stored under the relative path p.
func (s *FileStore) GetByPath(ctx context.Context, p string) (models.FileRecord, error) {
	var rec models.FileRecord
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = scanFile(tx.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ?`, p))
		return err
	})
	return rec, err
}

// ListActive returns every live record, ordered by path.
func (s *FileStore) ListActive(ctx context.Context) ([]models.FileRecord, error) {
	var out []models.FileRecord
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE deletion_date IS NULL ORDER BY path`)
		if err != nil {
			return fmt.Errorf("failed to query active files: %w", err)
		}
		out, err = scanFiles(rows)
		return err
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (models.FileRecord, error) {
	var (
		rec                        models.FileRecord
		contentDate, deletionDate  sql.NullTime
		creationDate, lastModified sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Path, &rec.Version, &rec.Hash, &rec.Size,
		&contentDate, &creationDate, &lastModified, &deletionDate, &rec.SoftwareVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to scan file row: %w", err)
	}
	rec.ContentDate = timePtr(contentDate)
	rec.DeletionDate = timePtr(deletionDate)
	rec.CreationDate = creationDate.Time.UTC()
	rec.LastModifiedDate = lastModified.Time.UTC()
	return rec, nil
}

func scanFiles(rows *sql.Rows) ([]models.FileRecord, error) {
	defer rows.Close()
	var out []models.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file rows: %w", err)
	}
	return out, nil
}
