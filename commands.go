// commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/services"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// Window flags shared by the window and poll commands.
var (
	windowStart      string
	windowEnd        string
	windowNoValidate bool
)

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&windowStart, "start", "", "window start (date or timestamp)")
	cmd.Flags().StringVar(&windowEnd, "end", "", "window end (date or timestamp)")
	cmd.Flags().BoolVar(&windowNoValidate, "no-validate", false, "ignore stored progress when choosing the window")
}

func windowRequest() (services.WindowRequest, error) {
	req := services.WindowRequest{Validate: !windowNoValidate}
	for _, f := range []struct {
		name string
		raw  string
		dst  **time.Time
	}{{"start", windowStart, &req.Start}, {"end", windowEnd, &req.End}} {
		if f.raw == "" {
			continue
		}
		t, err := utils.ParseDate(f.raw)
		if err != nil {
			return req, fmt.Errorf("invalid --%s: %w", f.name, err)
		}
		*f.dst = &t
	}
	return req, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the index tables if they do not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.db.Migrate(ctx)
		})
	},
}

var windowCmd = &cobra.Command{
	Use:   "window <feed>",
	Short: "Show the download window for a feed",
	Long: `Compute the window the next download of a feed should cover. Stored
progress is read but never changed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := windowRequest()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			win, ok, err := a.window.WindowFor(ctx, args[0], req)
			if err != nil {
				return err
			}
			resp := models.WindowResponse{Feed: args[0], UpToDate: !ok}
			if ok {
				resp.Start, resp.End = &win.Start, &win.End
			}
			return printJSON(cmd, resp)
		})
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Inspect or update per-feed download progress",
}

var progressShowCmd = &cobra.Command{
	Use:   "show [feed]",
	Short: "Print the progress of one feed, or of every feed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if len(args) == 1 {
				rec, err := a.progress.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, rec)
			}
			recs, err := a.progress.List(ctx)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []models.ProgressRecord{}
			}
			return printJSON(cmd, recs)
		})
	},
}

var progressLatest string

var progressUpdateCmd = &cobra.Command{
	Use:   "update <feed>",
	Short: "Mark a feed as checked now, optionally advancing its progress",
	Long: `Record that a feed was checked. With --latest, progress advances to that
timestamp only if it is later than the stored one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var latest *time.Time
		if progressLatest != "" {
			t, err := utils.ParseDate(progressLatest)
			if err != nil {
				return fmt.Errorf("invalid --latest: %w", err)
			}
			latest = &t
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			advanced, err := a.window.UpdateProgress(ctx, args[0], latest)
			if err != nil {
				return err
			}
			rec, err := a.progress.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !advanced && latest != nil {
				a.logger.Info("progress not advanced", "feed", args[0], "latest", latest)
			}
			return printJSON(cmd, rec)
		})
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll [feeds...]",
	Short: "Download and ingest new files from the configured feeds",
	Long: `For each feed (all configured feeds when none are named): compute the
window, fetch the listing, download matching files, ingest them and update
the feed's progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := windowRequest()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			poller, err := a.poller()
			if err != nil {
				return err
			}
			results, err := poller.PollFeeds(ctx, req, args)
			out := cmd.OutOrStdout()
			for _, r := range results {
				switch {
				case r.UpToDate:
					fmt.Fprintf(out, "%s: up to date\n", r.Feed)
				case r.Err != nil:
					fmt.Fprintf(out, "%s: %d ingested, %d failed: %v\n", r.Feed, len(r.Batch.Ingested), len(r.Batch.Failed), r.Err)
				default:
					fmt.Fprintf(out, "%s: %d ingested, progress advanced: %t\n", r.Feed, len(r.Batch.Ingested), r.Advanced)
				}
			}
			return err
		})
	},
}

var replicateOutput string

var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Export index rows modified since the last export as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			w := cmd.OutOrStdout()
			if replicateOutput != "" && replicateOutput != "-" {
				f, err := os.Create(replicateOutput)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", replicateOutput, err)
				}
				defer f.Close()
				w = f
			}
			report, err := a.replication.Export(ctx, w)
			if err != nil {
				return err
			}
			a.logger.Info("replication export complete", "since", report.Since, "exported", report.Exported, "latest", report.Latest)
			return nil
		})
	},
}

var (
	cleanupDryRun bool
	cleanupTasks  []string
	cleanupMaxOps int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete or archive files according to the configured cleanup tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := services.CleanupOptions{TaskNames: cleanupTasks, MaxFileOperations: cleanupMaxOps}
		if cmd.Flags().Changed("dry-run") {
			opts.DryRun = &cleanupDryRun
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.cleanup.Run(ctx, opts)
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return err
		})
	},
}

var findAll bool

var findCmd = &cobra.Command{
	Use:   "find <filename>",
	Short: "Locate a file's identity in the datastore",
	Long: `Print where the given filename lives in the datastore. For versioned
identities the latest version is printed; with --all every version or part
is listed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := paths.Select(filepath.Base(args[0]))
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			if !h.SupportsSequencing() {
				p, err := a.finder.FindMatching(h)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, p)
				return nil
			}
			if findAll {
				all, err := a.finder.FindAllParts(h)
				if err != nil {
					return err
				}
				for _, p := range all {
					fmt.Fprintln(out, p)
				}
				return nil
			}
			p, err := a.finder.FindLatestVersion(h)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, p)
			return nil
		})
	},
}

var (
	watchFolder string
	watchRemove bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest files dropped into a folder",
	Long: `Ingest the files already in the watched folder, then keep ingesting new
ones until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			folder := a.cfg.Watch.Folder
			if watchFolder != "" {
				folder = watchFolder
			}
			if folder == "" {
				return fmt.Errorf("no folder to watch: set watch.folder or pass --folder")
			}
			remove := a.cfg.Watch.RemoveAfterIngest
			if cmd.Flags().Changed("remove") {
				remove = watchRemove
			}

			w := services.NewWatcher(folder, a.ingest, remove, a.logger)
			w.OnIngest = func(path string, res datastore.Result, err error) {
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", filepath.Base(path), res.RelativePath)
				}
			}
			if err := w.Scan(ctx); err != nil {
				a.logger.Warn("some existing files were not ingested", "error", err)
			}
			return w.Run(ctx)
		})
	},
}

func init() {
	addWindowFlags(windowCmd)
	addWindowFlags(pollCmd)

	progressUpdateCmd.Flags().StringVar(&progressLatest, "latest", "", "newest content timestamp now held for the feed")
	progressCmd.AddCommand(progressShowCmd, progressUpdateCmd)

	replicateCmd.Flags().StringVarP(&replicateOutput, "output", "o", "-", "CSV output file (- for stdout)")

	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would change without touching files")
	cleanupCmd.Flags().StringSliceVar(&cleanupTasks, "task", nil, "run only the named tasks")
	cleanupCmd.Flags().IntVar(&cleanupMaxOps, "max-ops", 0, "override max_file_operations")

	findCmd.Flags().BoolVar(&findAll, "all", false, "list every version or part")

	watchCmd.Flags().StringVar(&watchFolder, "folder", "", "folder to watch (overrides watch.folder)")
	watchCmd.Flags().BoolVar(&watchRemove, "remove", false, "remove files once they are in the datastore")

	rootCmd.AddCommand(migrateCmd, windowCmd, progressCmd, pollCmd, replicateCmd, cleanupCmd, findCmd, watchCmd)
}
