// datastore/file_store.go
package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// CopyFunc copies src to dst. dst's parent directory already exists.
type CopyFunc func(src, dst string) error

// FileStore resolves slots purely from the files present under Root.
type FileStore struct {
	root   string
	hasher Hasher
	logger *slog.Logger

	// Copy defaults to CopyFile.
	Copy CopyFunc
}

func NewFileStore(root string, hasher Hasher, logger *slog.Logger) *FileStore {
	if hasher == nil {
		hasher = MD5Hasher{}
	}
	return &FileStore{
		root:   root,
		hasher: hasher,
		logger: utils.Component(logger, "Datastore"),
		Copy:   CopyFile,
	}
}

func (s *FileStore) Root() string {
	return s.root
}

// Add copies source into the slot chosen for h. For sequenced identities the
// slot is the lowest sequence, starting at h's, that is either free or
// already holds identical bytes; for the others an existing file with
// different bytes is overwritten.
func (s *FileStore) Add(ctx context.Context, source string, h paths.Handler) (Result, error) {
	info, err := statSource(source)
	if err != nil {
		s.logger.Error("source file does not exist", "source", source)
		return Result{}, err
	}
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create datastore %s: %w", s.root, err)
	}

	hash, err := s.hasher.Hash(source)
	if err != nil {
		return Result{}, fmt.Errorf("failed to hash source %s: %w", source, err)
	}

	identical, err := s.nextAvailable(ctx, h, hash)
	if err != nil {
		return Result{}, err
	}

	rel, err := paths.RelativePath(h)
	if err != nil {
		return Result{}, err
	}
	dest := localPath(s.root, rel)
	res := Result{Path: dest, RelativePath: rel, Handler: h, Hash: hash, Size: info.Size()}

	if destInfo, err := os.Stat(dest); err == nil && os.SameFile(info, destInfo) {
		s.logger.Info("source and destination are the same file, skipping", "path", dest)
		res.Reused = true
		return res, nil
	}
	if identical {
		s.logger.Info("file already exists and is the same, skipping", "path", dest)
		res.Reused = true
		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create folder for %s: %w", dest, err)
	}

	s.logger.Info("copying file", "source", source, "destination", dest)
	if err := s.Copy(source, dest); err != nil {
		os.Remove(dest)
		return Result{}, fmt.Errorf("failed to copy %s to %s: %w", source, dest, err)
	}

	// Always a fresh digest here; a cached one would hide a bad copy.
	written, err := HashFile(dest)
	if err != nil {
		os.Remove(dest)
		return Result{}, fmt.Errorf("failed to verify %s: %w", dest, err)
	}
	if written != hash {
		os.Remove(dest)
		s.logger.Error("copied file does not match source", "source", source, "destination", dest)
		return Result{}, fmt.Errorf("%w: %s (expected %s, got %s)", ErrTornWrite, dest, hash, written)
	}

	if rec, ok := s.hasher.(hashRecorder); ok {
		if err := rec.Record(dest, hash); err != nil {
			s.logger.Warn("failed to cache digest", "path", dest, "error", err)
		}
	}
	return res, nil
}

// nextAvailable moves h to the first usable sequence and reports whether
// that slot already holds bytes hashing to hash. Any slot on disk holding
// identical bytes wins over probing, whatever h's starting sequence.
func (s *FileStore) nextAvailable(ctx context.Context, h paths.Handler, hash string) (bool, error) {
	dest, err := s.destination(h)
	if err != nil {
		return false, err
	}

	if !h.SupportsSequencing() {
		s.logger.Debug("sequencing not supported, an existing different file will be overwritten", "path", dest)
		_, same, err := s.holds(dest, hash)
		return same, err
	}

	occupied, same, err := s.existingSlots(ctx, h, hash)
	if err != nil {
		return false, err
	}
	if same != "" {
		paths.AdoptSibling(h, filepath.Base(same))
		return true, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !occupied[h.Sequence()] {
			exists, same, err := s.holds(dest, hash)
			if err != nil || same || !exists {
				return same, err
			}
		}

		s.logger.Debug("file exists and is different, increasing sequence",
			"path", dest, "next", h.Sequence()+1)
		h.IncreaseSequence()

		updated, err := s.destination(h)
		if err != nil {
			return false, err
		}
		if updated == dest {
			s.logger.Error("file exists and is different, cannot increase sequence", "path", dest)
			return false, fmt.Errorf("%w: %s", ErrCannotAdvanceVersion, dest)
		}
		dest = updated
	}
}

// existingSlots lists the sequences of h's identity already on disk and
// returns the path of the lowest one whose bytes hash to hash, if any.
// Sequences are compared numerically so _v002 and _v0002 name the same slot.
func (s *FileStore) existingSlots(ctx context.Context, h paths.Handler, hash string) (map[int]bool, string, error) {
	files, err := listSequenced(s.root, h)
	if err != nil {
		return nil, "", err
	}
	occupied := make(map[int]bool, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		existing, err := s.hasher.Hash(f.path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to hash existing %s: %w", f.path, err)
		}
		if existing == hash {
			s.logger.Debug("identical file already in datastore", "path", f.path, "sequence", f.sequence)
			return nil, f.path, nil
		}
		occupied[f.sequence] = true
	}
	return occupied, "", nil
}

func (s *FileStore) destination(h paths.Handler) (string, error) {
	rel, err := paths.RelativePath(h)
	if err != nil {
		return "", err
	}
	return localPath(s.root, rel), nil
}

// holds reports whether p exists and, if so, whether it hashes to hash.
func (s *FileStore) holds(p, hash string) (exists, same bool, err error) {
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return false, false, nil
	} else if err != nil {
		return false, false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	existing, err := s.hasher.Hash(p)
	if err != nil {
		return true, false, fmt.Errorf("failed to hash existing %s: %w", p, err)
	}
	return true, existing == hash, nil
}

// CopyFile copies contents, permission bits and modification time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
