// datastore/datastore.go
//
// Package datastore places artifacts into the versioned file tree. A
// filesystem-only FileStore decides slots from what is on disk; IndexedStore
// wraps any Resolver and also consults the file index; LockingStore
// serialises callers working on the same identity.
package datastore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
)

var (
	ErrSourceNotFound = errors.New("source file not found")
	// ErrTornWrite: the copy in the datastore does not hash to the source.
	// The partial copy has been removed.
	ErrTornWrite = errors.New("copied file does not match source")
	// ErrCannotAdvanceVersion: increasing the sequence did not change the
	// rendered path, so probing would never terminate.
	ErrCannotAdvanceVersion = errors.New("cannot advance version")
	ErrNoMatchingFile       = errors.New("no matching file in datastore")
)

// Result describes where an artifact ended up.
type Result struct {
	Path         string // on disk
	RelativePath string // slash-separated, relative to the datastore root
	Handler      paths.Handler
	Hash         string
	Size         int64
	// Reused is true when no bytes were written: identical content already
	// occupied the slot, or source and destination are the same file.
	Reused bool
}

// Resolver assigns a slot for source under h and makes sure the bytes are
// there. h is updated in place with the sequence that was chosen.
type Resolver interface {
	Add(ctx context.Context, source string, h paths.Handler) (Result, error)
}

// Hasher produces the hex content digest of a file.
type Hasher interface {
	Hash(path string) (string, error)
}

// hashRecorder is implemented by hashers that can be told the digest of a
// file that was just written and verified.
type hashRecorder interface {
	Record(path, hash string) error
}

// MD5Hasher hashes the whole file on every call.
type MD5Hasher struct{}

func (MD5Hasher) Hash(path string) (string, error) {
	return HashFile(path)
}

// HashFile returns the md5 of the file at path as lowercase hex.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// localPath turns a slash-separated index path into an OS path under root.
// Absolute paths (archived copies outside the store) are returned as-is.
func localPath(root, rel string) string {
	p := filepath.FromSlash(rel)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func statSource(source string) (os.FileInfo, error) {
	info, err := os.Stat(source)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", source, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, source)
	}
	return info, nil
}
