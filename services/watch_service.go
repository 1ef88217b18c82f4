// services/watch_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// Watcher ingests files dropped into a folder.
type Watcher struct {
	folder            string
	ingest            *IngestService
	removeAfterIngest bool
	debounce          time.Duration
	logger            *slog.Logger

	// OnIngest, when set, is called after every file is processed.
	OnIngest func(path string, res datastore.Result, err error)
}

func NewWatcher(folder string, ingest *IngestService, removeAfterIngest bool, logger *slog.Logger) *Watcher {
	return &Watcher{
		folder:            folder,
		ingest:            ingest,
		removeAfterIngest: removeAfterIngest,
		debounce:          500 * time.Millisecond,
		logger:            utils.Component(logger, "Service").With("folder", folder),
	}
}

// Scan ingests the files already in the folder.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.folder)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.folder, err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := w.Process(ctx, filepath.Join(w.folder, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run watches the folder until ctx is cancelled. Bursts of events for one
// file are collapsed, so a file is processed once it stops changing.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.folder); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	w.logger.Info("watching for new files")

	ready := make(chan string, 64)
	var (
		timerMu sync.Mutex
		timers  = make(map[string]*time.Timer)
	)
	defer func() {
		timerMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !wantEvent(event) {
				continue
			}
			path := event.Name
			timerMu.Lock()
			if t, exists := timers[path]; exists {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				timerMu.Lock()
				delete(timers, path)
				timerMu.Unlock()
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})
			timerMu.Unlock()

		case path := <-ready:
			_ = w.Process(ctx, path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func wantEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	return !ignoredName(filepath.Base(event.Name))
}

// ignoredName skips hidden and in-progress files.
func ignoredName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp")
}

// Process ingests one file from the folder.
func (w *Watcher) Process(ctx context.Context, path string) error {
	if ignoredName(filepath.Base(path)) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// Gone already, or a directory: nothing to ingest.
		return nil
	}

	res, err := w.ingest.IngestFile(ctx, path)
	if w.OnIngest != nil {
		w.OnIngest(path, res, err)
	}
	if err != nil {
		w.logger.Error("failed to ingest dropped file", "path", path, "error", err)
		return fmt.Errorf("%s: %w", path, err)
	}
	w.logger.Info("ingested dropped file", "path", path, "datastore_path", res.RelativePath, "reused", res.Reused)

	if w.removeAfterIngest && res.Path != path {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove ingested file", "path", path, "error", err)
		}
	}
	return nil
}
