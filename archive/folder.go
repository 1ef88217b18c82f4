// archive/folder.go
//
// Package archive holds the destinations cleanup can move datastore files
// to before they are removed.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
)

// FolderArchiver copies files into Root, keeping their datastore-relative
// layout. The recorded path is relative when Root lies inside the
// datastore, absolute otherwise.
type FolderArchiver struct {
	Root          string
	DatastoreRoot string
}

func (a FolderArchiver) Archive(ctx context.Context, source string, rec models.FileRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := filepath.Join(a.Root, filepath.FromSlash(rec.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive folder: %w", err)
	}
	if err := datastore.CopyFile(source, dest); err != nil {
		return "", fmt.Errorf("failed to copy %s to archive: %w", source, err)
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	if a.DatastoreRoot != "" {
		absRoot, err := filepath.Abs(a.DatastoreRoot)
		if err != nil {
			return "", err
		}
		if rel, err := filepath.Rel(absRoot, absDest); err == nil && rel != ".." && !startsWithParent(rel) {
			return filepath.ToSlash(rel), nil
		}
	}
	return absDest, nil
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
