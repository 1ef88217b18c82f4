// hashcache/cache.go
//
// Package hashcache remembers file digests across runs so that probing
// existing datastore slots does not re-read unchanged files.
package hashcache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// Cache is a datastore.Hasher backed by an in-memory LRU in front of a
// badger database. Entries are keyed by absolute path, size and
// modification time, so a rewritten file misses.
type Cache struct {
	db     *badger.DB
	mem    *lru.Cache[string, string]
	logger *slog.Logger

	// Compute produces digests on a miss. Defaults to datastore.HashFile.
	Compute func(path string) (string, error)
}

// Open opens (or creates) the cache at dir. An empty dir keeps the badger
// store in memory.
func Open(dir string, size int, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = 4096
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create hash cache directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open hash cache: %w", err)
	}

	mem, err := lru.New[string, string](size)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create hash cache LRU: %w", err)
	}

	return &Cache{
		db:      db,
		mem:     mem,
		logger:  utils.Component(logger, "HashCache"),
		Compute: datastore.HashFile,
	}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Hash returns the digest of path, computing and storing it on a miss.
func (c *Cache) Hash(path string) (string, error) {
	key, err := cacheKey(path)
	if err != nil {
		return "", err
	}

	if h, ok := c.mem.Get(key); ok {
		return h, nil
	}

	var stored string
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			stored = string(val)
			return nil
		})
	})
	switch {
	case err == nil:
		c.mem.Add(key, stored)
		return stored, nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		c.logger.Warn("hash cache read failed, hashing file", "path", path, "error", err)
	}

	h, err := c.Compute(path)
	if err != nil {
		return "", err
	}
	if err := c.put(key, h); err != nil {
		c.logger.Warn("hash cache write failed", "path", path, "error", err)
	}
	return h, nil
}

// Record stores a digest that the caller has just verified.
func (c *Cache) Record(path, hash string) error {
	key, err := cacheKey(path)
	if err != nil {
		return err
	}
	return c.put(key, hash)
}

func (c *Cache) put(key, hash string) error {
	c.mem.Add(key, hash)
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(hash))
	})
}

func cacheKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	return abs + "|" + strconv.FormatInt(info.Size(), 10) + "|" + strconv.FormatInt(info.ModTime().UnixNano(), 10), nil
}
