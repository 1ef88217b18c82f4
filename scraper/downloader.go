// scraper/downloader.go
//
// Package scraper fetches instrument files from remote feeds and reads and
// writes the CSV manifests exchanged with other pipeline stages.
package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// Downloader saves remote files to local paths.
type Downloader struct {
	client *http.Client
	logger *slog.Logger
}

func NewDownloader(timeout time.Duration, logger *slog.Logger) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		client: &http.Client{Timeout: timeout},
		logger: utils.Component(logger, "Scraper"),
	}
}

// DownloadFile fetches url into localSavePath and returns the number of
// bytes written. The file appears under its final name only once the
// body has been read in full.
func (d *Downloader) DownloadFile(ctx context.Context, url, localSavePath string) (int64, error) {
	d.logger.Debug("downloading", "url", url, "path", localSavePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to make GET request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to download file from %s: received status code %d", url, resp.StatusCode)
	}

	dir := filepath.Dir(localSavePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localSavePath)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create local file for %s: %w", localSavePath, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to copy downloaded content to %s: %w", localSavePath, err)
	}
	if err := os.Rename(tmp.Name(), localSavePath); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}

	d.logger.Info("downloaded", "url", url, "path", localSavePath, "bytes", n)
	return n, nil
}
