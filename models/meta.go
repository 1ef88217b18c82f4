// models/meta.go
package models

import "time"

// ProgressRecord tracks how far one external feed has been synchronised.
// Both timestamps are null until the feed is first polled.
type ProgressRecord struct {
	ItemName          string     `db:"item_name" json:"item_name"`
	ProgressTimestamp *time.Time `db:"progress_timestamp" json:"progress_timestamp,omitempty"` // max content time synchronised
	LastCheckedDate   *time.Time `db:"last_checked_date" json:"last_checked_date,omitempty"`   // last poll, successful or not
}

// RecordChecked notes a poll of the feed at when.
func (p *ProgressRecord) RecordChecked(when time.Time) {
	p.LastCheckedDate = &when
}

// RecordSuccess advances the progress timestamp to latest if that is
// strictly later than the current value. It reports whether it moved.
func (p *ProgressRecord) RecordSuccess(latest time.Time) bool {
	if p.ProgressTimestamp != nil && !latest.After(*p.ProgressTimestamp) {
		return false
	}
	p.ProgressTimestamp = &latest
	return true
}

// ManifestEntry is one (local file, content date, feed) tuple handed over
// by a fetch collaborator.
type ManifestEntry struct {
	LocalPath   string `csv:"local_path"`
	ContentDate string `csv:"content_date,omitempty"`
	Feed        string `csv:"feed,omitempty"`
}
