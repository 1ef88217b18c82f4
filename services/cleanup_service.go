// services/cleanup_service.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/config"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// ActiveFiles lists the live rows of the file index.
type ActiveFiles interface {
	ListActive(ctx context.Context) ([]models.FileRecord, error)
}

// FileRemover soft-deletes or archives indexed files;
// *datastore.IndexedStore implements it.
type FileRemover interface {
	Archive(ctx context.Context, rec *models.FileRecord, archiver datastore.Archiver) (*models.FileRecord, error)
	Delete(ctx context.Context, rec *models.FileRecord) error
}

// ArchiverFactory returns the destination for a task in archive mode.
type ArchiverFactory func(task config.CleanupTask) (datastore.Archiver, error)

// CleanupOptions override the configured run. Zero values fall back to
// the configuration.
type CleanupOptions struct {
	TaskNames         []string
	DryRun            *bool
	MaxFileOperations int
}

// CleanupReport totals one run. In a dry run the counts are what would
// have happened.
type CleanupReport struct {
	Deleted        int
	Archived       int
	Operations     int
	StoppedAtLimit bool
	DryRun         bool
}

func (r CleanupReport) String() string {
	verb := "were"
	if r.DryRun {
		verb = "would be"
	}
	var parts []string
	if r.Deleted > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", r.Deleted))
	}
	if r.Archived > 0 {
		parts = append(parts, fmt.Sprintf("%d archived", r.Archived))
	}
	if r.StoppedAtLimit {
		parts = append(parts, "stopped at limit")
	}
	if len(parts) == 0 {
		return "no files to clean up"
	}
	return fmt.Sprintf("files %s: %s", verb, strings.Join(parts, ", "))
}

// CleanupService removes or archives old files according to the
// configured tasks.
type CleanupService struct {
	cfg       config.CleanupConfig
	files     ActiveFiles
	remover   FileRemover
	archivers ArchiverFactory
	clock     utils.Clock
	logger    *slog.Logger
}

func NewCleanupService(cfg config.CleanupConfig, files ActiveFiles, remover FileRemover, archivers ArchiverFactory, clock utils.Clock, logger *slog.Logger) *CleanupService {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &CleanupService{
		cfg:       cfg,
		files:     files,
		remover:   remover,
		archivers: archivers,
		clock:     clock,
		logger:    utils.Component(logger, "Service"),
	}
}

// Run executes the selected tasks in order, stopping once the operation
// limit is reached. Dry-run operations count against the limit.
func (s *CleanupService) Run(ctx context.Context, opts CleanupOptions) (CleanupReport, error) {
	report := CleanupReport{DryRun: s.cfg.DryRun}
	if opts.DryRun != nil {
		report.DryRun = *opts.DryRun
	}
	limit := s.cfg.MaxFileOperations
	if opts.MaxFileOperations > 0 {
		limit = opts.MaxFileOperations
	}

	tasks := s.cfg.Tasks
	if len(opts.TaskNames) > 0 {
		tasks = nil
		for _, t := range s.cfg.Tasks {
			if slices.Contains(opts.TaskNames, t.Name) {
				tasks = append(tasks, t)
			}
		}
		if len(tasks) == 0 {
			s.logger.Info("no cleanup tasks match", "names", opts.TaskNames)
			return report, nil
		}
	}

	s.logger.Info("running cleanup", "tasks", len(tasks), "dry_run", report.DryRun, "max_operations", limit)

	active, err := s.files.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list active files: %w", err)
	}

	for _, task := range tasks {
		if report.Operations >= limit {
			report.StoppedAtLimit = true
			s.logger.Info("reached max file operations, stopping cleanup", "limit", limit)
			break
		}

		matched, err := matchPaths(active, task.PathsToMatch)
		if err != nil {
			return report, fmt.Errorf("task %s: %w", task.Name, err)
		}
		if len(matched) == 0 {
			s.logger.Info("no files match patterns", "task", task.Name)
			continue
		}

		candidates := s.filesToCleanup(matched, task)
		if len(candidates) == 0 {
			s.logger.Info("no files to clean up", "task", task.Name)
			continue
		}
		s.logger.Info("cleanup candidates", "task", task.Name, "matched", len(matched), "candidates", len(candidates),
			"files_older_than", task.FilesOlderThan, "keep_latest_only", task.KeepLatestVersionOnly)

		var archiver datastore.Archiver
		if task.CleanupMode == "archive" && !report.DryRun {
			if archiver, err = s.archivers(task); err != nil {
				return report, fmt.Errorf("task %s: failed to create archiver: %w", task.Name, err)
			}
		}

		for i := range candidates {
			if report.Operations >= limit {
				report.StoppedAtLimit = true
				s.logger.Info("reached max file operations, stopping cleanup", "limit", limit)
				break
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}

			rec := &candidates[i]
			if err := s.apply(ctx, task, rec, archiver, report.DryRun); err != nil {
				return report, fmt.Errorf("task %s: %w", task.Name, err)
			}
			report.Operations++
			if task.CleanupMode == "archive" {
				report.Archived++
			} else {
				report.Deleted++
			}
		}
		if report.StoppedAtLimit {
			break
		}
	}

	s.logger.Info("cleanup complete", "result", report.String())
	return report, nil
}

func (s *CleanupService) apply(ctx context.Context, task config.CleanupTask, rec *models.FileRecord, archiver datastore.Archiver, dryRun bool) error {
	if task.CleanupMode == "archive" {
		if dryRun {
			s.logger.Info("[DRY RUN] would archive", "path", rec.Path, "task", task.Name)
			return nil
		}
		archived, err := s.remover.Archive(ctx, rec, archiver)
		if err != nil {
			return err
		}
		s.logger.Info("archived", "path", rec.Path, "to", archived.Path)
		return nil
	}

	if dryRun {
		s.logger.Info("[DRY RUN] would delete", "path", rec.Path, "task", task.Name)
		return nil
	}
	if err := s.remover.Delete(ctx, rec); err != nil {
		return err
	}
	s.logger.Info("deleted", "path", rec.Path)
	return nil
}

// filesToCleanup narrows matched files to those past the task's age, and
// to non-latest versions when the task keeps the latest.
func (s *CleanupService) filesToCleanup(files []models.FileRecord, task config.CleanupTask) []models.FileRecord {
	candidates := files
	if task.KeepLatestVersionOnly {
		candidates = nonLatestVersions(files)
	}

	cutoff := s.clock.Now().Add(-task.FilesOlderThan)
	var out []models.FileRecord
	for _, f := range candidates {
		if f.LastModifiedDate.Before(cutoff) {
			out = append(out, f)
		}
	}
	return out
}

// matchPaths returns the records whose relative path matches any of the
// globs. "*" stays within one directory, "**" crosses them.
func matchPaths(files []models.FileRecord, patterns []string) ([]models.FileRecord, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	var out []models.FileRecord
	for _, f := range files {
		for _, g := range globs {
			if g.Match(f.Path) {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

var versionToken = regexp.MustCompile(`_v(\d+)\.`)

// versionIdentity returns the group a file's version competes in, and the
// version. Files that are not versioned are their own group.
func versionIdentity(rec models.FileRecord) (string, int, bool) {
	if h, err := paths.SelectPath(rec.Path); err == nil && h.SequenceName() == paths.SequenceVersion {
		if key, err := datastore.LockKey(h); err == nil {
			return key, h.Sequence(), true
		}
	}
	loc := versionToken.FindStringSubmatchIndex(rec.Path)
	if loc == nil {
		return "", 0, false
	}
	v, err := strconv.Atoi(rec.Path[loc[2]:loc[3]])
	if err != nil {
		return "", 0, false
	}
	return rec.Path[:loc[2]] + "*" + rec.Path[loc[3]:], v, true
}

func nonLatestVersions(files []models.FileRecord) []models.FileRecord {
	latest := make(map[string]int)
	for _, f := range files {
		if key, v, ok := versionIdentity(f); ok {
			if cur, seen := latest[key]; !seen || v > cur {
				latest[key] = v
			}
		}
	}

	var out []models.FileRecord
	for _, f := range files {
		key, v, ok := versionIdentity(f)
		if ok && v < latest[key] {
			out = append(out, f)
		}
	}
	return out
}
