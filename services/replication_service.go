// services/replication_service.go
package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/scraper"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// ModifiedSince pages through live index rows by modification time.
type ModifiedSince interface {
	Since(ctx context.Context, ts time.Time, limit int) ([]models.FileRecord, error)
}

// ReplicationReport describes one export.
type ReplicationReport struct {
	Since    time.Time
	Exported int
	Latest   *time.Time
}

// ReplicationService exports index rows modified since the last export
// and remembers how far it got under its own progress item.
type ReplicationService struct {
	files     ModifiedSince
	progress  ProgressIndex
	item      string
	batchSize int
	clock     utils.Clock
	logger    *slog.Logger
}

func NewReplicationService(files ModifiedSince, progress ProgressIndex, item string, batchSize int, clock utils.Clock, logger *slog.Logger) *ReplicationService {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &ReplicationService{
		files:     files,
		progress:  progress,
		item:      item,
		batchSize: batchSize,
		clock:     clock,
		logger:    utils.Component(logger, "Service"),
	}
}

// Export writes the next batch as CSV to w and advances the progress item
// to the newest modification time written.
func (s *ReplicationService) Export(ctx context.Context, w io.Writer) (ReplicationReport, error) {
	rec, err := s.progress.Get(ctx, s.item)
	if err != nil {
		return ReplicationReport{}, fmt.Errorf("failed to read progress for %s: %w", s.item, err)
	}
	since := time.Unix(0, 0).UTC()
	if rec.ProgressTimestamp != nil {
		since = *rec.ProgressTimestamp
	}
	report := ReplicationReport{Since: since}

	files, err := s.files.Since(ctx, since, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to query files modified since %s: %w", since, err)
	}
	files = completeTimestamps(files, s.batchSize)

	if err := scraper.WriteFileRecords(w, files); err != nil {
		return report, fmt.Errorf("failed to write export: %w", err)
	}
	report.Exported = len(files)

	if len(files) > 0 {
		latest := files[len(files)-1].LastModifiedDate
		report.Latest = &latest
	}
	if _, err := s.progress.UpdateProgress(ctx, s.item, s.clock.Now(), report.Latest); err != nil {
		return report, fmt.Errorf("failed to update progress for %s: %w", s.item, err)
	}

	s.logger.Info("exported files", "since", since, "count", report.Exported, "latest", report.Latest)
	return report, nil
}

// completeTimestamps drops the trailing rows that share the final
// modification time of a full page, so the next strictly-later query does
// not skip their siblings. A page made of one timestamp is kept whole.
func completeTimestamps(files []models.FileRecord, limit int) []models.FileRecord {
	if len(files) < limit || len(files) == 0 {
		return files
	}
	last := files[len(files)-1].LastModifiedDate
	i := len(files)
	for i > 0 && files[i-1].LastModifiedDate.Equal(last) {
		i--
	}
	if i == 0 {
		return files
	}
	return files[:i]
}
