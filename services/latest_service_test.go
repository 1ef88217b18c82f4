package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

func TestIngestBatch_PublishesNewestQuicklook(t *testing.T) {
	svc, root, _ := newIngest(t)
	svc.Latest = NewLatestPublisher(datastore.NewFileStore(root, datastore.MD5Hasher{}, utils.DiscardLogger()), utils.DiscardLogger())
	src := t.TempDir()

	artifact := func(name, content string) Artifact {
		h, err := paths.Select(name)
		require.NoError(t, err)
		return Artifact{Source: writeSource(t, src, name, content), Handler: h}
	}

	_, err := svc.IngestBatch(context.Background(), []Artifact{
		artifact("imap_quicklook_ialirt_20251016.png", "plot 16th"),
		artifact("imap_quicklook_ialirt_20251017.png", "plot 17th"),
		artifact("imap_quicklook_hk_20251015.png", "hk 15th"),
	})
	require.NoError(t, err)

	latest := filepath.Join(root, "quicklook", "ialirt", "latest.png")
	got, err := os.ReadFile(latest)
	require.NoError(t, err)
	assert.Equal(t, "plot 17th", string(got))

	info, err := os.Stat(latest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)), "dated to the plot's content date")

	got, err = os.ReadFile(filepath.Join(root, "quicklook", "hk", "latest.png"))
	require.NoError(t, err)
	assert.Equal(t, "hk 15th", string(got))

	// A late arrival for an earlier day is filed but does not replace latest.
	_, err = svc.IngestBatch(context.Background(), []Artifact{
		artifact("imap_quicklook_ialirt_20251010.png", "plot 10th"),
	})
	require.NoError(t, err)
	got, err = os.ReadFile(latest)
	require.NoError(t, err)
	assert.Equal(t, "plot 17th", string(got))
	assert.FileExists(t, filepath.Join(root, "quicklook", "ialirt", "2025", "10", "imap_quicklook_ialirt_20251010.png"))
}

func TestIngestBatch_NoLatestWithoutPublisher(t *testing.T) {
	svc, root, _ := newIngest(t)
	src := t.TempDir()

	h, err := paths.Select("imap_quicklook_ialirt_20251017.png")
	require.NoError(t, err)
	_, err = svc.IngestBatch(context.Background(), []Artifact{
		{Source: writeSource(t, src, "imap_quicklook_ialirt_20251017.png", "plot"), Handler: h},
	})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "quicklook", "ialirt", "latest.png"))
}
