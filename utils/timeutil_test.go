package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaiveUTC_KeepsWallClock(t *testing.T) {
	zone := time.FixedZone("CEST", 2*60*60)
	in := time.Date(2025, 10, 17, 10, 30, 0, 0, zone)

	out := NaiveUTC(in)

	assert.Equal(t, time.UTC, out.Location())
	assert.Equal(t, 10, out.Hour())
	assert.Equal(t, 30, out.Minute())
	assert.True(t, NaiveUTC(time.Time{}).IsZero())
}

func TestDayBoundaries(t *testing.T) {
	now := time.Date(2025, 10, 17, 13, 45, 12, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC), StartOfDay(now))
	assert.Equal(t, time.Date(2025, 10, 17, 23, 59, 59, 999999000, time.UTC), EndOfDay(now))
	assert.Equal(t, time.Date(2025, 10, 16, 0, 0, 0, 0, time.UTC), Yesterday(now))
}

func TestParseDate(t *testing.T) {
	cases := map[string]time.Time{
		"2025-10-17":                time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC),
		"20251017":                  time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC),
		"2025-10-17T08:15:00":       time.Date(2025, 10, 17, 8, 15, 0, 0, time.UTC),
		"2025-10-17 08:15:00":       time.Date(2025, 10, 17, 8, 15, 0, 0, time.UTC),
		"2025-10-17T08:15:00+05:00": time.Date(2025, 10, 17, 8, 15, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: got %s", in, got)
	}

	_, err := ParseDate("yesterday-ish")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("30d")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d)

	d, err = ParseDuration("2w")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	d, err = ParseDuration("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = ParseDuration("xd")
	assert.Error(t, err)
}
