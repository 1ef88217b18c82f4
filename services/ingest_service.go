// services/ingest_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// Artifact is a local file paired with the identity it should be filed
// under.
type Artifact struct {
	Source  string
	Handler paths.Handler
	// ContentDate overrides the handler's index date for progress tracking.
	ContentDate *time.Time
	Feed        string
}

// IngestFailure records one artifact that could not be resolved.
type IngestFailure struct {
	Source string
	Err    error
}

func (f IngestFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Source, f.Err)
}

func (f IngestFailure) Unwrap() error { return f.Err }

// BatchResult itemises a batch. Ingested keeps input order.
type BatchResult struct {
	Ingested []datastore.Result
	Failed   []IngestFailure
}

// Err joins every failure, or is nil.
func (b BatchResult) Err() error {
	if len(b.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(b.Failed))
	for i, f := range b.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// IngestService pushes local files through the composed resolver.
type IngestService struct {
	resolver datastore.Resolver
	window   *WindowService
	logger   *slog.Logger

	// OnProgress, when set, is called after each artifact of a batch.
	OnProgress func(done, total int, source string)
	// Latest, when set, refreshes the latest copy of each quicklook plot
	// type a batch ingests.
	Latest *LatestPublisher
}

func NewIngestService(resolver datastore.Resolver, window *WindowService, logger *slog.Logger) *IngestService {
	return &IngestService{resolver: resolver, window: window, logger: utils.Component(logger, "Service")}
}

// IngestFile selects the identity of source from its path and adds it.
func (s *IngestService) IngestFile(ctx context.Context, source string) (datastore.Result, error) {
	h, err := paths.SelectPath(source)
	if err != nil {
		return datastore.Result{}, err
	}
	return s.resolver.Add(ctx, source, h)
}

// IngestBatch adds every artifact. A failure is recorded and the batch
// carries on; the returned error joins all failures.
func (s *IngestService) IngestBatch(ctx context.Context, artifacts []Artifact) (BatchResult, error) {
	var out BatchResult
	ingested := make(map[string]bool, len(artifacts))
	for i, a := range artifacts {
		if err := ctx.Err(); err != nil {
			for _, rest := range artifacts[i:] {
				out.Failed = append(out.Failed, IngestFailure{Source: rest.Source, Err: err})
			}
			break
		}

		res, err := s.resolver.Add(ctx, a.Source, a.Handler)
		if err != nil {
			s.logger.Error("failed to ingest file", "source", a.Source, "error", err)
			out.Failed = append(out.Failed, IngestFailure{Source: a.Source, Err: err})
		} else {
			if res.Reused {
				s.logger.Info("file already in datastore", "source", a.Source, "path", res.RelativePath)
			} else {
				s.logger.Info("file ingested", "source", a.Source, "path", res.RelativePath)
			}
			out.Ingested = append(out.Ingested, res)
			ingested[a.Source] = true
		}

		if s.OnProgress != nil {
			s.OnProgress(i+1, len(artifacts), a.Source)
		}
	}

	if s.Latest != nil {
		for plot, a := range newestQuicklooks(artifacts, ingested) {
			if _, err := s.Latest.Publish(context.WithoutCancel(ctx), a.Source, a.Handler.(*paths.QuicklookHandler)); err != nil {
				s.logger.Warn("failed to update latest quicklook", "plot_type", plot, "source", a.Source, "error", err)
			}
		}
	}

	s.logger.Info("batch complete", "ingested", len(out.Ingested), "failed", len(out.Failed))
	return out, out.Err()
}

// IngestManifest resolves each manifest entry by filename and ingests the
// lot. Each feed named in the manifest is marked checked, and its progress
// advances to the latest content date that was ingested.
func (s *IngestService) IngestManifest(ctx context.Context, entries []models.ManifestEntry) (BatchResult, error) {
	var (
		artifacts []Artifact
		failed    []IngestFailure
		feeds     = make(map[string]struct{})
	)

	for _, e := range entries {
		if e.Feed != "" {
			feeds[e.Feed] = struct{}{}
		}
		a, err := artifactFromEntry(e)
		if err != nil {
			s.logger.Error("cannot ingest manifest entry", "source", e.LocalPath, "error", err)
			failed = append(failed, IngestFailure{Source: e.LocalPath, Err: err})
			continue
		}
		artifacts = append(artifacts, a)
	}

	res, _ := s.IngestBatch(ctx, artifacts)
	res.Failed = append(failed, res.Failed...)

	if s.window != nil && len(feeds) > 0 {
		latest := latestByFeed(artifacts, res)
		names := make([]string, 0, len(feeds))
		for f := range feeds {
			names = append(names, f)
		}
		sort.Strings(names)

		for _, feed := range names {
			if _, err := s.window.UpdateProgress(context.WithoutCancel(ctx), feed, latest[feed]); err != nil {
				res.Failed = append(res.Failed, IngestFailure{Source: "progress:" + feed, Err: err})
			}
		}
	}

	return res, res.Err()
}

func artifactFromEntry(e models.ManifestEntry) (Artifact, error) {
	h, err := paths.SelectPath(e.LocalPath)
	if err != nil {
		return Artifact{}, err
	}
	a := Artifact{Source: e.LocalPath, Handler: h, Feed: e.Feed}
	if e.ContentDate != "" {
		d, err := utils.ParseDate(e.ContentDate)
		if err != nil {
			return Artifact{}, fmt.Errorf("invalid content date %q: %w", e.ContentDate, err)
		}
		a.ContentDate = &d
	}
	return a, nil
}

// latestByFeed returns the maximum content date of the successfully
// ingested artifacts, per feed.
func latestByFeed(artifacts []Artifact, res BatchResult) map[string]*time.Time {
	failed := make(map[string]bool, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Source] = true
	}

	out := make(map[string]*time.Time)
	for _, a := range artifacts {
		if a.Feed == "" || failed[a.Source] {
			continue
		}
		d := a.ContentDate
		if d == nil {
			if idx := a.Handler.IndexDate(); !idx.IsZero() {
				d = &idx
			}
		}
		if d == nil {
			continue
		}
		if cur := out[a.Feed]; cur == nil || d.After(*cur) {
			v := *d
			out[a.Feed] = &v
		}
	}
	return out
}
