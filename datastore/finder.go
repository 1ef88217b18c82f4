// datastore/finder.go
package datastore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// Finder looks up files already in the datastore by identity.
type Finder struct {
	root   string
	logger *slog.Logger
}

func NewFinder(root string, logger *slog.Logger) *Finder {
	return &Finder{root: root, logger: utils.Component(logger, "Datastore")}
}

type sequencedFile struct {
	path     string
	sequence int
}

// FindLatestVersion returns the file of h's identity with the highest
// sequence, or ErrNoMatchingFile.
func (f *Finder) FindLatestVersion(h paths.Handler) (string, error) {
	files, err := f.findSequenced(h)
	if err != nil {
		return "", err
	}
	return files[len(files)-1].path, nil
}

// FindAllParts returns every file of h's identity in ascending sequence.
func (f *Finder) FindAllParts(h paths.Handler) ([]string, error) {
	files, err := f.findSequenced(h)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(files))
	for i, file := range files {
		out[i] = file.path
	}
	return out, nil
}

// FindMatching returns the file h renders to exactly, if it exists.
func (f *Finder) FindMatching(h paths.Handler) (string, error) {
	rel, err := paths.RelativePath(h)
	if err != nil {
		return "", err
	}
	p := localPath(f.root, rel)
	if _, err := os.Stat(p); err != nil {
		f.logger.Debug("no file found", "path", p)
		return "", fmt.Errorf("%w: %s", ErrNoMatchingFile, rel)
	}
	return p, nil
}

func (f *Finder) findSequenced(h paths.Handler) ([]sequencedFile, error) {
	if !h.SupportsSequencing() {
		return nil, fmt.Errorf("%s files are not sequenced", h.Category())
	}
	files, err := listSequenced(f.root, h)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		pattern, _ := h.UnsequencedPattern()
		folder, _ := h.Folder()
		f.logger.Info("no files found matching pattern", "pattern", pattern.String(), "folder", folder)
		return nil, fmt.Errorf("%w: %s in %s", ErrNoMatchingFile, pattern, folder)
	}
	return files, nil
}

// listSequenced returns the files on disk sharing h's identity, in
// ascending sequence. A missing folder yields no files.
func listSequenced(root string, h paths.Handler) ([]sequencedFile, error) {
	pattern, err := h.UnsequencedPattern()
	if err != nil {
		return nil, err
	}
	folder, err := h.Folder()
	if err != nil {
		return nil, err
	}
	dir := localPath(root, folder)

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var files []sequencedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := pattern.Match(e.Name()); ok {
			files = append(files, sequencedFile{path: filepath.Join(dir, e.Name()), sequence: seq})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].sequence < files[j].sequence })
	return files, nil
}
