// scraper/listing_source.go
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// ListingSource is a feed served as an HTML directory listing: every link
// whose file name matches Pattern is a candidate file.
type ListingSource struct {
	name       string
	baseURL    *url.URL
	pattern    *regexp.Regexp
	client     *http.Client
	downloader *Downloader
	logger     *slog.Logger
}

func NewListingSource(name, baseURL, pattern string, timeout time.Duration, logger *slog.Logger) (*ListingSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing URL %q: %w", baseURL, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern for feed %s: %w", name, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ListingSource{
		name:       name,
		baseURL:    u,
		pattern:    re,
		client:     &http.Client{Timeout: timeout},
		downloader: NewDownloader(timeout, logger),
		logger:     utils.Component(logger, "Scraper").With("feed", name),
	}, nil
}

func (s *ListingSource) Name() string { return s.name }

// RemoteFile is one entry of a listing.
type RemoteFile struct {
	Name        string
	URL         string
	ContentDate time.Time // zero when the name carries no date
}

// List returns the files in the listing, ordered by name.
func (s *ListingSource) List(ctx context.Context) ([]RemoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL.String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get URL %s: %w", s.baseURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get URL %s: status code %d", s.baseURL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML from %s: %w", s.baseURL, err)
	}

	seen := make(map[string]bool)
	var files []RemoteFile
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || strings.HasSuffix(ref.Path, "/") {
			return
		}
		abs := s.baseURL.ResolveReference(ref)
		name := path.Base(abs.Path)
		if name == "" || name == "." || seen[name] || !s.pattern.MatchString(name) {
			return
		}
		seen[name] = true

		f := RemoteFile{Name: name, URL: abs.String()}
		if h, err := paths.Select(name); err == nil {
			f.ContentDate = h.IndexDate()
		}
		files = append(files, f)
	})

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	s.logger.Debug("listing parsed", "files", len(files))
	return files, nil
}

// Fetch downloads every listed file whose content date falls within
// [start, end] into dir. Files without a date are always fetched. The
// returned manifest names the downloaded copies.
func (s *ListingSource) Fetch(ctx context.Context, start, end time.Time, dir string) ([]models.ManifestEntry, error) {
	files, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	from := utils.StartOfDay(start)
	var entries []models.ManifestEntry
	for _, f := range files {
		if !f.ContentDate.IsZero() && (f.ContentDate.Before(from) || f.ContentDate.After(end)) {
			continue
		}
		local := filepath.Join(dir, f.Name)
		if _, err := s.downloader.DownloadFile(ctx, f.URL, local); err != nil {
			return entries, err
		}

		e := models.ManifestEntry{LocalPath: local, Feed: s.name}
		if !f.ContentDate.IsZero() {
			e.ContentDate = f.ContentDate.Format(time.RFC3339)
		}
		entries = append(entries, e)
	}

	s.logger.Info("fetched files", "count", len(entries), "listed", len(files), "start", from, "end", end)
	return entries, nil
}
