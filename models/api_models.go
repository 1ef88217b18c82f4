// models/api_models.go
package models

import "time"

// WindowResponse is returned by /api/window/{feed}. Start and End are nil
// when the feed is already up to date.
type WindowResponse struct {
	Feed     string     `json:"feed"`
	UpToDate bool       `json:"up_to_date"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
}

// FilesSinceResponse is returned by /api/files/since.
type FilesSinceResponse struct {
	Since time.Time    `json:"since"`
	Count int          `json:"count"`
	Files []FileRecord `json:"files"`
}
