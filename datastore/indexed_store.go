// datastore/indexed_store.go
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/database"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// FileIndex is the part of the file index IndexedStore needs;
// *database.FileStore implements it.
type FileIndex interface {
	Insert(ctx context.Context, rec *models.FileRecord) (database.InsertOutcome, error)
	QueryByPattern(ctx context.Context, pattern *paths.Pattern, folder string) ([]models.FileRecord, error)
	SoftDelete(ctx context.Context, rec *models.FileRecord, when time.Time) error
}

// Archiver stores a copy of a datastore file somewhere else and returns the
// path to record for that copy.
type Archiver interface {
	Archive(ctx context.Context, source string, rec models.FileRecord) (string, error)
}

// IndexedStore keeps the file index in step with an inner Resolver. A slot
// is only used when both the index and the inner resolver agree it is free.
type IndexedStore struct {
	inner           Resolver
	index           FileIndex
	root            string
	hasher          Hasher
	softwareVersion string
	clock           utils.Clock
	logger          *slog.Logger
}

type IndexedStoreConfig struct {
	Root            string
	SoftwareVersion string
	Hasher          Hasher
	Clock           utils.Clock
}

func NewIndexedStore(inner Resolver, index FileIndex, cfg IndexedStoreConfig, logger *slog.Logger) *IndexedStore {
	if cfg.Hasher == nil {
		cfg.Hasher = MD5Hasher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	return &IndexedStore{
		inner:           inner,
		index:           index,
		root:            cfg.Root,
		hasher:          cfg.Hasher,
		softwareVersion: cfg.SoftwareVersion,
		clock:           cfg.Clock,
		logger:          utils.Component(logger, "Datastore"),
	}
}

// Add probes the index for a slot, delegates the copy to the inner resolver
// and records the result. Content already indexed at the slot the inner
// resolver ends up using is not recorded twice. If the index write fails,
// bytes copied by this call are removed again.
func (s *IndexedStore) Add(ctx context.Context, source string, h paths.Handler) (Result, error) {
	if _, err := statSource(source); err != nil {
		s.logger.Error("source file does not exist", "source", source)
		return Result{}, err
	}
	hash, err := s.hasher.Hash(source)
	if err != nil {
		return Result{}, fmt.Errorf("failed to hash source %s: %w", source, err)
	}

	indexed, err := s.nextAvailable(ctx, h, hash)
	if err != nil {
		return Result{}, err
	}

	res, err := s.inner.Add(ctx, source, h)
	if err != nil {
		return Result{}, err
	}

	if indexed >= 0 && h.Sequence() == indexed {
		s.logger.Info("file already exists in database and is the same, skipping insertion", "path", res.RelativePath)
		return res, nil
	}

	rec := s.recordFor(res)
	s.logger.Info("inserting file into database", "path", rec.Path, "version", rec.Version)
	if _, err := s.index.Insert(ctx, rec); err != nil {
		s.logger.Error("failed to insert file into database", "path", rec.Path, "error", err)
		if !res.Reused {
			if rmErr := os.Remove(res.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				s.logger.Warn("failed to remove copied file", "path", res.Path, "error", rmErr)
			}
		}
		return Result{}, err
	}
	return res, nil
}

// nextAvailable moves h past every sequence the index already holds for
// this identity. If a live row already holds hash, h is set to that row's
// sequence, which is returned; otherwise it returns -1.
func (s *IndexedStore) nextAvailable(ctx context.Context, h paths.Handler, hash string) (int, error) {
	if !h.SupportsSequencing() {
		s.logger.Debug("sequencing not supported, file may be overwritten if it differs")
		return -1, nil
	}

	pattern, err := h.UnsequencedPattern()
	if err != nil {
		return -1, err
	}
	folder, err := h.Folder()
	if err != nil {
		return -1, err
	}

	records, err := s.index.QueryByPattern(ctx, pattern, folder)
	if err != nil {
		return -1, fmt.Errorf("failed to query index for %s: %w", pattern, err)
	}

	// Deleted rows keep their slot but are not reusable content.
	occupied := make(map[int]bool, len(records))
	var matches []models.FileRecord
	for _, rec := range records {
		occupied[rec.Version] = true
		if rec.Hash == hash && !rec.IsDeleted() {
			matches = append(matches, rec)
		}
	}

	if len(matches) > 0 {
		best := matches[0]
		for _, m := range matches[1:] {
			if m.Version < best.Version {
				best = m
			}
		}
		if len(matches) > 1 {
			s.logger.Warn("several indexed files share the same hash, using the lowest sequence",
				"pattern", pattern.String(), "count", len(matches), "sequence", best.Version)
		}
		if !paths.AdoptSibling(h, best.Name) {
			h.SetSequence(best.Version)
		}
		return best.Version, nil
	}

	for occupied[h.Sequence()] {
		before, err := paths.RelativePath(h)
		if err != nil {
			return -1, err
		}
		s.logger.Debug("file exists in database and is different, increasing sequence",
			"path", before, "next", h.Sequence()+1)
		h.IncreaseSequence()
		after, err := paths.RelativePath(h)
		if err != nil {
			return -1, err
		}
		if after == before {
			return -1, fmt.Errorf("%w: %s", ErrCannotAdvanceVersion, before)
		}
	}
	return -1, nil
}

func (s *IndexedStore) recordFor(res Result) *models.FileRecord {
	version := 0
	if res.Handler.SupportsSequencing() {
		version = res.Handler.Sequence()
	}
	var contentDate *time.Time
	if d := res.Handler.IndexDate(); !d.IsZero() {
		contentDate = &d
	}
	return &models.FileRecord{
		Name:            path.Base(res.RelativePath),
		Path:            res.RelativePath,
		Version:         version,
		Hash:            res.Hash,
		Size:            res.Size,
		ContentDate:     contentDate,
		SoftwareVersion: s.softwareVersion,
	}
}

// Archive copies rec's file through archiver, indexes the copy, marks rec
// deleted and removes the original bytes.
func (s *IndexedStore) Archive(ctx context.Context, rec *models.FileRecord, archiver Archiver) (*models.FileRecord, error) {
	source := localPath(s.root, rec.Path)

	archivedPath, err := archiver.Archive(ctx, source, *rec)
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", rec.Path, err)
	}

	archived := &models.FileRecord{
		Name:            rec.Name,
		Path:            archivedPath,
		Version:         rec.Version,
		Hash:            rec.Hash,
		Size:            rec.Size,
		ContentDate:     rec.ContentDate,
		CreationDate:    rec.CreationDate,
		SoftwareVersion: rec.SoftwareVersion,
	}
	if _, err := s.index.Insert(ctx, archived); err != nil {
		return nil, err
	}

	if err := s.index.SoftDelete(ctx, rec, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove archived original %s: %w", source, err)
	}
	s.logger.Info("file archived", "path", rec.Path, "archive", archivedPath)
	return archived, nil
}

// Delete marks rec deleted, then removes its bytes if they are still there.
func (s *IndexedStore) Delete(ctx context.Context, rec *models.FileRecord) error {
	if err := s.index.SoftDelete(ctx, rec, s.clock.Now()); err != nil {
		return err
	}
	p := localPath(s.root, rec.Path)
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	s.logger.Info("file deleted", "path", rec.Path)
	return nil
}
