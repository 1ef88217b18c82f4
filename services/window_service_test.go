package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

var (
	epoch = time.Date(2025, 9, 24, 0, 0, 0, 0, time.UTC)
	now   = time.Date(2025, 10, 20, 15, 30, 0, 0, time.UTC)
)

func tp(t time.Time) *time.Time { return &t }

func TestWindowFor_StartPrecedence(t *testing.T) {
	progress := time.Date(2025, 10, 10, 6, 0, 0, 0, time.UTC)
	checked := time.Date(2025, 10, 19, 12, 0, 0, 0, time.UTC)
	requested := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		rec  models.ProgressRecord
		req  WindowRequest
		want time.Time
	}{
		{"requested wins", models.ProgressRecord{ProgressTimestamp: &progress}, WindowRequest{Start: &requested}, requested},
		{"progress next", models.ProgressRecord{ProgressTimestamp: &progress, LastCheckedDate: &checked}, WindowRequest{}, progress},
		{"checked uses yesterday when earlier", models.ProgressRecord{LastCheckedDate: &checked}, WindowRequest{}, time.Date(2025, 10, 19, 0, 0, 0, 0, time.UTC)},
		{"checked minus an hour when earlier", models.ProgressRecord{LastCheckedDate: tp(time.Date(2025, 10, 5, 0, 30, 0, 0, time.UTC))}, WindowRequest{}, time.Date(2025, 10, 4, 23, 30, 0, 0, time.UTC)},
		{"epoch last", models.ProgressRecord{}, WindowRequest{}, epoch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, ok := WindowFor(tc.rec, tc.req, now, epoch)
			require.True(t, ok)
			assert.Equal(t, tc.want, w.Start)
			assert.Equal(t, time.Date(2025, 10, 20, 23, 59, 59, 999999000, time.UTC), w.End)
		})
	}
}

func TestWindowFor_ProgressWithNoRequestIsEndOfToday(t *testing.T) {
	d := time.Date(2025, 10, 18, 15, 30, 0, 0, time.UTC)
	w, ok := WindowFor(models.ProgressRecord{ProgressTimestamp: &d}, WindowRequest{Validate: true}, d.AddDate(0, 0, 2), epoch)
	require.True(t, ok)
	assert.Equal(t, d, w.Start)
	assert.Equal(t, utils.EndOfDay(d.AddDate(0, 0, 2)), w.End)
}

func TestWindowFor_Validation(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 10, 5, 0, 0, 0, 0, time.UTC)
	req := WindowRequest{Start: &start, End: &end, Validate: true}

	t.Run("no progress", func(t *testing.T) {
		w, ok := WindowFor(models.ProgressRecord{}, req, now, epoch)
		require.True(t, ok)
		assert.Equal(t, Window{Start: start, End: end}, w)
	})
	t.Run("progress before start", func(t *testing.T) {
		w, ok := WindowFor(models.ProgressRecord{ProgressTimestamp: tp(start.Add(-time.Hour))}, req, now, epoch)
		require.True(t, ok)
		assert.Equal(t, start, w.Start)
	})
	t.Run("progress equal to start", func(t *testing.T) {
		w, ok := WindowFor(models.ProgressRecord{ProgressTimestamp: tp(start)}, req, now, epoch)
		require.True(t, ok)
		assert.Equal(t, start, w.Start)
	})
	t.Run("partially up to date", func(t *testing.T) {
		mid := start.AddDate(0, 0, 2)
		w, ok := WindowFor(models.ProgressRecord{ProgressTimestamp: &mid}, req, now, epoch)
		require.True(t, ok)
		assert.Equal(t, Window{Start: mid, End: end}, w)
	})
	t.Run("already up to date", func(t *testing.T) {
		_, ok := WindowFor(models.ProgressRecord{ProgressTimestamp: tp(end)}, req, now, epoch)
		assert.False(t, ok)
		_, ok = WindowFor(models.ProgressRecord{ProgressTimestamp: tp(end.Add(time.Hour))}, req, now, epoch)
		assert.False(t, ok)
	})
	t.Run("no validation ignores progress", func(t *testing.T) {
		noValidate := req
		noValidate.Validate = false
		w, ok := WindowFor(models.ProgressRecord{ProgressTimestamp: tp(end.Add(time.Hour))}, noValidate, now, epoch)
		require.True(t, ok)
		assert.Equal(t, Window{Start: start, End: end}, w)
	})
}

func TestWindowFor_StripsZones(t *testing.T) {
	zone := time.FixedZone("CEST", 2*3600)
	start := time.Date(2025, 10, 1, 10, 0, 0, 0, zone)
	end := time.Date(2025, 10, 2, 10, 0, 0, 0, zone)
	w, ok := WindowFor(models.ProgressRecord{}, WindowRequest{Start: &start, End: &end}, now, epoch)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 10, 2, 10, 0, 0, 0, time.UTC), w.End)
}

type memProgress struct {
	recs map[string]models.ProgressRecord
}

func newMemProgress() *memProgress {
	return &memProgress{recs: make(map[string]models.ProgressRecord)}
}

func (m *memProgress) Get(_ context.Context, feed string) (models.ProgressRecord, error) {
	if rec, ok := m.recs[feed]; ok {
		return rec, nil
	}
	return models.ProgressRecord{ItemName: feed}, nil
}

func (m *memProgress) UpdateProgress(_ context.Context, feed string, checked time.Time, latest *time.Time) (bool, error) {
	rec, _ := m.Get(context.Background(), feed)
	rec.RecordChecked(checked)
	advanced := false
	if latest != nil {
		advanced = rec.RecordSuccess(*latest)
	}
	m.recs[feed] = rec
	return advanced, nil
}

func TestWindowService_ReadsWithoutWriting(t *testing.T) {
	progress := newMemProgress()
	svc := NewWindowService(progress, utils.FixedClock{T: now}, epoch, utils.DiscardLogger())

	w, ok, err := svc.WindowFor(context.Background(), "MAG_HSK_PW", WindowRequest{Validate: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, epoch, w.Start)
	assert.Empty(t, progress.recs)

	advanced, err := svc.UpdateProgress(context.Background(), "MAG_HSK_PW", nil)
	require.NoError(t, err)
	assert.False(t, advanced)

	w, ok, err = svc.WindowFor(context.Background(), "MAG_HSK_PW", WindowRequest{Validate: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, utils.Yesterday(now), w.Start, "checked but never synced backs off to yesterday")
}

func TestWindowService_MonotonicProgress(t *testing.T) {
	progress := newMemProgress()
	svc := NewWindowService(progress, utils.FixedClock{T: now}, epoch, utils.DiscardLogger())
	ctx := context.Background()

	d := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)
	advanced, err := svc.UpdateProgress(ctx, "f", &d)
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = svc.UpdateProgress(ctx, "f", tp(d.AddDate(0, 0, -3)))
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, d, *progress.recs["f"].ProgressTimestamp)
}
