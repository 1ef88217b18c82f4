// datastore/locking_store.go
package datastore

import (
	"context"
	"log/slog"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/lock"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// LockingStore holds an advisory lock on the artifact identity for the
// whole of the inner Add, so two writers never probe the same slots at once.
type LockingStore struct {
	inner  Resolver
	locker lock.Locker
	logger *slog.Logger
}

func NewLockingStore(inner Resolver, locker lock.Locker, logger *slog.Logger) *LockingStore {
	return &LockingStore{inner: inner, locker: locker, logger: utils.Component(logger, "Datastore")}
}

func (s *LockingStore) Add(ctx context.Context, source string, h paths.Handler) (Result, error) {
	key, err := LockKey(h)
	if err != nil {
		return Result{}, err
	}

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release lock", "key", key, "error", err)
		}
	}()

	return s.inner.Add(ctx, source, h)
}

// LockKey names an identity independently of its sequence: the folder plus
// the filename with the sequence digits wildcarded.
func LockKey(h paths.Handler) (string, error) {
	folder, err := h.Folder()
	if err != nil {
		return "", err
	}
	if h.SupportsSequencing() {
		pattern, err := h.UnsequencedPattern()
		if err != nil {
			return "", err
		}
		if pattern != nil {
			return folder + "/" + pattern.Prefix + "*" + pattern.Suffix, nil
		}
	}
	name, err := h.Filename()
	if err != nil {
		return "", err
	}
	return folder + "/" + name, nil
}
