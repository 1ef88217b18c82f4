// services/poll_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// Source is a remote feed that can download its files for a window;
// *scraper.ListingSource implements it.
type Source interface {
	Name() string
	Fetch(ctx context.Context, start, end time.Time, dir string) ([]models.ManifestEntry, error)
}

// PollResult is the outcome for one feed.
type PollResult struct {
	Feed     string
	Window   Window
	UpToDate bool
	Batch    BatchResult
	Advanced bool
	Err      error
}

// Poller runs window, fetch, ingest and progress update for each feed.
type Poller struct {
	sources     []Source
	window      *WindowService
	ingest      *IngestService
	concurrency int
	workDir     string
	logger      *slog.Logger
}

func NewPoller(sources []Source, window *WindowService, ingest *IngestService, concurrency int, workDir string, logger *slog.Logger) *Poller {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Poller{
		sources:     sources,
		window:      window,
		ingest:      ingest,
		concurrency: concurrency,
		workDir:     workDir,
		logger:      utils.Component(logger, "Service"),
	}
}

// ErrUnknownFeed is returned when a feed name matches no configured source.
var ErrUnknownFeed = errors.New("unknown feed")

// Feeds lists the names of the configured sources.
func (p *Poller) Feeds() []string {
	names := make([]string, len(p.sources))
	for i, s := range p.sources {
		names[i] = s.Name()
	}
	return names
}

// Poll processes every feed, at most concurrency at a time. One feed
// failing does not stop the others; the error joins all feed failures.
func (p *Poller) Poll(ctx context.Context, req WindowRequest) ([]PollResult, error) {
	return p.PollFeeds(ctx, req, nil)
}

// PollFeeds is Poll restricted to the named feeds; no names means all.
func (p *Poller) PollFeeds(ctx context.Context, req WindowRequest, names []string) ([]PollResult, error) {
	sources := p.sources
	if len(names) > 0 {
		sources = nil
		for _, name := range names {
			i := slices.IndexFunc(p.sources, func(s Source) bool { return s.Name() == name })
			if i < 0 {
				return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
			}
			sources = append(sources, p.sources[i])
		}
	}
	results := make([]PollResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = p.pollOne(gctx, src, req)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", r.Feed, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (p *Poller) pollOne(ctx context.Context, src Source, req WindowRequest) PollResult {
	name := src.Name()
	res := PollResult{Feed: name}

	w, ok, err := p.window.WindowFor(ctx, name, req)
	if err != nil {
		res.Err = err
		return res
	}

	var fetchErr error
	var artifacts []Artifact
	if !ok {
		res.UpToDate = true
	} else {
		res.Window = w
		artifacts, fetchErr = p.fetch(ctx, src, w, &res)
	}

	// Progress only moves when the whole window was fetched; checked is
	// recorded regardless.
	var latest *time.Time
	if fetchErr == nil {
		latest = latestByFeed(artifacts, res.Batch)[name]
	}
	advanced, err := p.window.UpdateProgress(context.WithoutCancel(ctx), name, latest)
	res.Advanced = advanced

	res.Err = errors.Join(fetchErr, res.Batch.Err(), err)
	if res.Err != nil {
		p.logger.Error("feed poll failed", "feed", name, "error", res.Err)
	} else {
		p.logger.Info("feed polled", "feed", name, "up_to_date", res.UpToDate, "ingested", len(res.Batch.Ingested), "advanced", advanced)
	}
	return res
}

func (p *Poller) fetch(ctx context.Context, src Source, w Window, res *PollResult) ([]Artifact, error) {
	if p.workDir != "" {
		if err := os.MkdirAll(p.workDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(p.workDir, src.Name()+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	defer os.RemoveAll(dir)

	entries, fetchErr := src.Fetch(ctx, w.Start, w.End, dir)

	var artifacts []Artifact
	var failed []IngestFailure
	for _, e := range entries {
		a, err := artifactFromEntry(e)
		if err != nil {
			failed = append(failed, IngestFailure{Source: e.LocalPath, Err: err})
			continue
		}
		a.Feed = src.Name()
		artifacts = append(artifacts, a)
	}

	batch, _ := p.ingest.IngestBatch(ctx, artifacts)
	batch.Failed = append(failed, batch.Failed...)
	res.Batch = batch

	if fetchErr != nil {
		return artifacts, fmt.Errorf("fetch failed: %w", fetchErr)
	}
	return artifacts, nil
}
