// handlers/api_handler.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/services"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

const (
	defaultSinceLimit = 100
	maxSinceLimit     = 10000
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type ProgressReader interface {
	Get(ctx context.Context, feed string) (models.ProgressRecord, error)
	List(ctx context.Context) ([]models.ProgressRecord, error)
}

// Deps are the collaborators behind the API. Poller and Cleanup are
// optional; their admin routes answer 503 when unset.
type Deps struct {
	DB       Pinger
	Files    services.ModifiedSince
	Progress ProgressReader
	Window   *services.WindowService
	Poller   *services.Poller
	Cleanup  *services.CleanupService
}

type Handler struct {
	Deps
	logger *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{Deps: deps, logger: utils.Component(logger, "API")}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/files/since", h.FilesSince)
	mux.HandleFunc("GET /api/progress", h.ListProgress)
	mux.HandleFunc("GET /api/progress/{feed}", h.GetProgress)
	mux.HandleFunc("GET /api/window/{feed}", h.GetWindow)
	mux.HandleFunc("POST /api/admin/poll/{feed}", h.Poll)
	mux.HandleFunc("POST /api/admin/cleanup", h.RunCleanup)
	return mux
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.PingContext(r.Context()); err != nil {
		h.logger.Error("health check failed: DB ping error", "error", err)
		respondWithJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "database connection error"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "datastore index is healthy"})
}

// FilesSince handles GET /api/files/since?ts=<timestamp>&limit=<n>.
func (h *Handler) FilesSince(w http.ResponseWriter, r *http.Request) {
	since := time.Unix(0, 0).UTC()
	if raw := r.URL.Query().Get("ts"); raw != "" {
		ts, err := utils.ParseDate(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'ts': %v", err))
			return
		}
		since = ts
	}

	limit := defaultSinceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSinceLimit {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid 'limit': must be between 1 and %d", maxSinceLimit))
			return
		}
		limit = n
	}

	files, err := h.Files.Since(r.Context(), since, limit)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to query files: %v", err))
		return
	}
	if files == nil {
		files = []models.FileRecord{}
	}
	respondWithJSON(w, http.StatusOK, models.FilesSinceResponse{Since: since, Count: len(files), Files: files})
}

func (h *Handler) ListProgress(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Progress.List(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list progress: %v", err))
		return
	}
	if recs == nil {
		recs = []models.ProgressRecord{}
	}
	respondWithJSON(w, http.StatusOK, recs)
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	feed := r.PathValue("feed")
	rec, err := h.Progress.Get(r.Context(), feed)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read progress for %s: %v", feed, err))
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

// GetWindow handles GET /api/window/{feed}?start=&end=&validate=. It never
// changes stored progress.
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	feed := r.PathValue("feed")
	req, err := windowRequest(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	win, ok, err := h.Deps.Window.WindowFor(r.Context(), feed, req)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := models.WindowResponse{Feed: feed, UpToDate: !ok}
	if ok {
		resp.Start, resp.End = &win.Start, &win.End
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// Poll handles POST /api/admin/poll/{feed}, where feed may be "all".
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	if h.Poller == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Polling is not configured")
		return
	}
	req, err := windowRequest(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var names []string
	if feed := r.PathValue("feed"); feed != "all" {
		names = []string{feed}
	}

	results, err := h.Poller.PollFeeds(r.Context(), req, names)
	if errors.Is(err, services.ErrUnknownFeed) {
		h.respondWithError(w, http.StatusNotFound, err.Error())
		return
	}

	summary := make([]map[string]any, 0, len(results))
	for _, res := range results {
		item := map[string]any{
			"feed":       res.Feed,
			"up_to_date": res.UpToDate,
			"ingested":   len(res.Batch.Ingested),
			"failed":     len(res.Batch.Failed),
			"advanced":   res.Advanced,
		}
		if res.Err != nil {
			item["error"] = res.Err.Error()
		}
		summary = append(summary, item)
	}

	code := http.StatusOK
	if err != nil {
		code = http.StatusBadGateway
	}
	respondWithJSON(w, code, map[string]any{"results": summary})
}

// RunCleanup handles POST /api/admin/cleanup?dry_run=&task=.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	if h.Cleanup == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Cleanup is not configured")
		return
	}

	var opts services.CleanupOptions
	q := r.URL.Query()
	if raw := q.Get("dry_run"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "Invalid 'dry_run'")
			return
		}
		opts.DryRun = &b
	}
	opts.TaskNames = q["task"]

	report, err := h.Cleanup.Run(r.Context(), opts)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Cleanup failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"deleted":          report.Deleted,
		"archived":         report.Archived,
		"stopped_at_limit": report.StoppedAtLimit,
		"dry_run":          report.DryRun,
		"message":          report.String(),
	})
}

func windowRequest(r *http.Request) (services.WindowRequest, error) {
	q := r.URL.Query()
	req := services.WindowRequest{Validate: true}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start", &req.Start}, {"end", &req.End}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := utils.ParseDate(raw)
		if err != nil {
			return req, fmt.Errorf("invalid '%s': %v", p.name, err)
		}
		*p.dst = &t
	}
	if raw := q.Get("validate"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return req, fmt.Errorf("invalid 'validate': %v", err)
		}
		req.Validate = b
	}
	return req, nil
}
