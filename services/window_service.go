// services/window_service.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// ProgressIndex is the progress table as the services use it;
// *database.ProgressStore implements it.
type ProgressIndex interface {
	Get(ctx context.Context, feed string) (models.ProgressRecord, error)
	UpdateProgress(ctx context.Context, feed string, checked time.Time, latest *time.Time) (bool, error)
}

// WindowRequest carries the optional caller-supplied bounds. With Validate
// set, the stored progress may narrow the window or cancel it.
type WindowRequest struct {
	Start    *time.Time
	End      *time.Time
	Validate bool
}

// Window is the time range a feed should next be fetched for.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor decides the next fetch window for a feed. The second result is
// false when the feed is already up to date. It does not touch storage.
func WindowFor(progress models.ProgressRecord, req WindowRequest, now, epoch time.Time) (Window, bool) {
	w, ok, _ := decideWindow(progress, req, now, epoch)
	return w, ok
}

func decideWindow(progress models.ProgressRecord, req WindowRequest, now, epoch time.Time) (Window, bool, string) {
	var w Window
	var reason string

	switch {
	case req.Start != nil:
		w.Start = utils.NaiveUTC(*req.Start)
		reason = "requested start"
	case progress.ProgressTimestamp != nil:
		w.Start = utils.NaiveUTC(*progress.ProgressTimestamp)
		reason = "progress timestamp"
	case progress.LastCheckedDate != nil:
		// Checked before without success: look back a little, at most to
		// yesterday.
		w.Start = minTime(utils.Yesterday(now), utils.NaiveUTC(*progress.LastCheckedDate).Add(-time.Hour))
		reason = "previously checked"
	default:
		w.Start = utils.NaiveUTC(epoch)
		reason = "first download, mission epoch"
	}

	if req.End != nil {
		w.End = utils.NaiveUTC(*req.End)
	} else {
		w.End = utils.EndOfDay(now)
	}

	if !req.Validate {
		return w, true, reason + ", not validated"
	}

	if progress.ProgressTimestamp == nil {
		return w, true, reason + ", not up to date"
	}
	p := utils.NaiveUTC(*progress.ProgressTimestamp)
	switch {
	case !p.After(w.Start):
		return w, true, reason + ", not up to date"
	case !p.Before(w.End):
		return Window{}, false, "already up to date"
	default:
		w.Start = p
		return w, true, "partially up to date"
	}
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

// WindowService computes windows from the stored progress of each feed.
type WindowService struct {
	progress ProgressIndex
	clock    utils.Clock
	epoch    time.Time
	logger   *slog.Logger
}

func NewWindowService(progress ProgressIndex, clock utils.Clock, epoch time.Time, logger *slog.Logger) *WindowService {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &WindowService{progress: progress, clock: clock, epoch: epoch, logger: utils.Component(logger, "Service")}
}

// WindowFor reads the progress of feed and applies WindowFor. It only
// reads; recording the poll is up to the caller.
func (s *WindowService) WindowFor(ctx context.Context, feed string, req WindowRequest) (Window, bool, error) {
	rec, err := s.progress.Get(ctx, feed)
	if err != nil {
		return Window{}, false, fmt.Errorf("failed to read progress for %s: %w", feed, err)
	}

	w, ok, reason := decideWindow(rec, req, s.clock.Now(), s.epoch)
	if !ok {
		s.logger.Info("feed is already up to date, not downloading", "feed", feed, "reason", reason)
		return Window{}, false, nil
	}
	s.logger.Info("download window", "feed", feed, "start", w.Start, "end", w.End, "reason", reason)
	return w, true, nil
}

// UpdateProgress stamps the feed as checked now and advances its progress to
// latest when that is later than what is stored.
func (s *WindowService) UpdateProgress(ctx context.Context, feed string, latest *time.Time) (bool, error) {
	advanced, err := s.progress.UpdateProgress(ctx, feed, s.clock.Now(), latest)
	if err != nil {
		return false, err
	}
	if latest != nil && !advanced {
		s.logger.Info("progress not advanced, latest is not after the stored timestamp", "feed", feed, "latest", *latest)
	}
	return advanced, nil
}
