// ingest_cmd.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/scraper"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/services"
)

var (
	ingestManifest string
	ingestFeed     string
	ingestQuiet    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "File local files into the datastore",
	Long: `Ingest files into the datastore. Each file's identity is selected from its
name. With --manifest, entries are read from a CSV of
local_path,content_date,feed and each named feed's progress is updated.

Examples:
  imapstore ingest imap_mag_l1c_norm-mago_20251017_v001.cdf
  imapstore ingest --feed MAG_HSK_PW downloads/*.pkts
  imapstore ingest --manifest fetched.csv`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestManifest, "manifest", "m", "", "CSV manifest of files to ingest")
	ingestCmd.Flags().StringVar(&ingestFeed, "feed", "", "feed whose progress the given files count towards")
	ingestCmd.Flags().BoolVarP(&ingestQuiet, "quiet", "q", false, "hide the progress bar")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	entries, err := ingestEntries(args)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("nothing to ingest: pass files or --manifest")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !ingestQuiet {
			bar := newProgressBar(len(entries), "Ingesting")
			a.ingest.OnProgress = func(done, total int, source string) {
				bar.Set(done)
			}
			defer bar.Finish()
		}

		res, err := a.ingest.IngestManifest(ctx, entries)
		printBatch(cmd, res)
		return err
	})
}

func ingestEntries(args []string) ([]models.ManifestEntry, error) {
	var entries []models.ManifestEntry
	if ingestManifest != "" {
		f, err := os.Open(ingestManifest)
		if err != nil {
			return nil, fmt.Errorf("failed to open manifest: %w", err)
		}
		defer f.Close()
		entries, err = scraper.ReadManifest(f)
		if err != nil {
			return nil, err
		}
	}
	for _, p := range args {
		entries = append(entries, models.ManifestEntry{LocalPath: p, Feed: ingestFeed})
	}
	return entries, nil
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		int64(total),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func printBatch(cmd *cobra.Command, res services.BatchResult) {
	out := cmd.OutOrStdout()
	for _, r := range res.Ingested {
		state := "added"
		if r.Reused {
			state = "unchanged"
		}
		fmt.Fprintf(out, "%-9s %s\n", state, r.RelativePath)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(out, "%-9s %s: %v\n", "failed", f.Source, f.Err)
	}
	fmt.Fprintf(out, "%d ingested, %d failed\n", len(res.Ingested), len(res.Failed))
}
