// services/latest_service.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// LatestPublisher keeps quicklook/<plot>/latest.<ext> a copy of the newest
// quicklook of each plot type. The copy's modification time is set to the
// plot's content date; an older plot never replaces a newer one.
type LatestPublisher struct {
	store  *datastore.FileStore
	logger *slog.Logger
}

func NewLatestPublisher(store *datastore.FileStore, logger *slog.Logger) *LatestPublisher {
	return &LatestPublisher{store: store, logger: utils.Component(logger, "Service")}
}

// Publish copies source to the latest slot of h's plot type. It reports
// false when the slot already holds a plot with a later content date.
func (p *LatestPublisher) Publish(ctx context.Context, source string, h *paths.QuicklookHandler) (bool, error) {
	latest := &paths.LatestHandler{
		Root:       path.Join("quicklook", h.PlotType),
		LatestDate: h.ContentDate,
		Extension:  h.Extension,
	}
	full, err := paths.FullPath(p.store.Root(), latest)
	if err != nil {
		return false, err
	}

	if info, err := os.Stat(full); err == nil && info.ModTime().After(h.ContentDate) {
		p.logger.Debug("latest copy is newer, not replacing", "path", full, "source", source)
		return false, nil
	}

	if _, err := p.store.Add(ctx, source, latest); err != nil {
		return false, err
	}
	if err := os.Chtimes(full, h.ContentDate, h.ContentDate); err != nil {
		return true, fmt.Errorf("failed to date latest copy %s: %w", full, err)
	}
	p.logger.Info("latest copy updated", "path", full, "date", h.ContentDate.Format("2006-01-02"))
	return true, nil
}

// newestQuicklooks picks, per plot type, the ingested quicklook with the
// latest content date.
func newestQuicklooks(artifacts []Artifact, ok map[string]bool) map[string]Artifact {
	out := make(map[string]Artifact)
	for _, a := range artifacts {
		q, isQuicklook := a.Handler.(*paths.QuicklookHandler)
		if !isQuicklook || !ok[a.Source] {
			continue
		}
		cur, seen := out[q.PlotType]
		if !seen || q.ContentDate.After(cur.Handler.(*paths.QuicklookHandler).ContentDate) {
			out[q.PlotType] = a
		}
	}
	return out
}
