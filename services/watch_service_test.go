package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

func TestWatcher_ScanIngestsAndRemoves(t *testing.T) {
	ingest, root, _ := newIngest(t)
	drop := t.TempDir()
	w := NewWatcher(drop, ingest, true, utils.DiscardLogger())

	good := writeSource(t, drop, "imap_mag_l1b_norm-mago_20251017_v001.cdf", "science")
	bad := writeSource(t, drop, "unknown.bin", "?")
	hidden := writeSource(t, drop, ".imap_mag_l1b_norm-magi_20251017_v001.cdf", "partial")

	err := w.Scan(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, paths.ErrNoMatchingVariant)

	assert.FileExists(t, filepath.Join(root, "science/mag/l1b/2025/10/imap_mag_l1b_norm-mago_20251017_v001.cdf"))
	assert.NoFileExists(t, good)
	assert.FileExists(t, bad, "failed files stay for inspection")
	assert.FileExists(t, hidden)
}

func TestWatcher_RunPicksUpNewFiles(t *testing.T) {
	ingest, root, _ := newIngest(t)
	drop := t.TempDir()
	w := NewWatcher(drop, ingest, false, utils.DiscardLogger())
	w.debounce = 20 * time.Millisecond

	done := make(chan string, 1)
	w.OnIngest = func(path string, res datastore.Result, err error) {
		if err == nil {
			select {
			case done <- res.RelativePath:
			default:
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	// Give the watcher time to register before dropping the file.
	time.Sleep(100 * time.Millisecond)
	writeSource(t, drop, "imap_mag_l0_hsk-pw_20251017_001.pkts", "packets")

	select {
	case rel := <-done:
		assert.Equal(t, "hk/mag/l0/hsk-pw/2025/10/imap_mag_l0_hsk-pw_20251017_001.pkts", rel)
		assert.FileExists(t, filepath.Join(root, filepath.FromSlash(rel)))
	case <-time.After(5 * time.Second):
		t.Fatal("file was not ingested")
	}

	cancel()
	assert.True(t, errors.Is(<-runErr, context.Canceled))
}

func TestIgnoredName(t *testing.T) {
	assert.True(t, ignoredName(".hidden.cdf"))
	assert.True(t, ignoredName("file.cdf.part"))
	assert.True(t, ignoredName("file.tmp"))
	assert.False(t, ignoredName("imap_mag_l1b_norm-mago_20251017_v001.cdf"))
}
