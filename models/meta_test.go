package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressRecord_RecordSuccessIsMonotonic(t *testing.T) {
	p := ProgressRecord{ItemName: "MAG_HSK_PW"}
	d1 := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	d0 := d1.Add(-time.Hour)

	assert.True(t, p.RecordSuccess(d1))
	assert.False(t, p.RecordSuccess(d1), "equal value is not an advance")
	assert.False(t, p.RecordSuccess(d0))
	assert.Equal(t, d1, *p.ProgressTimestamp)

	assert.True(t, p.RecordSuccess(d1.Add(time.Second)))
}

func TestFileRecord_SetDeleted(t *testing.T) {
	f := FileRecord{Name: "a"}
	assert.False(t, f.IsDeleted())
	f.SetDeleted(time.Now())
	assert.True(t, f.IsDeleted())
}
