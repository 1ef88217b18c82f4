// models/file.go
package models

import "time"

// FileRecord is the permanent ledger entry for one occupied version slot in
// the datastore. Rows are never hard-deleted; DeletionDate marks bytes that
// have been removed or archived.
type FileRecord struct {
	ID               int64      `db:"id" json:"id" csv:"id"`
	Name             string     `db:"name" json:"name" csv:"name"`
	Path             string     `db:"path" json:"path" csv:"path"` // relative to the datastore root
	Version          int        `db:"version" json:"version" csv:"version"`
	Hash             string     `db:"hash" json:"hash" csv:"hash"`
	Size             int64      `db:"size" json:"size" csv:"size"`
	ContentDate      *time.Time `db:"content_date" json:"content_date,omitempty" csv:"content_date,omitempty"`
	CreationDate     time.Time  `db:"creation_date" json:"creation_date" csv:"creation_date"`
	LastModifiedDate time.Time  `db:"last_modified_date" json:"last_modified_date" csv:"last_modified_date"`
	DeletionDate     *time.Time `db:"deletion_date" json:"deletion_date,omitempty" csv:"deletion_date,omitempty"`
	SoftwareVersion  string     `db:"software_version" json:"software_version" csv:"software_version"`
}

func (f *FileRecord) IsDeleted() bool {
	return f.DeletionDate != nil
}

// SetDeleted marks the record deleted at when.
func (f *FileRecord) SetDeleted(when time.Time) {
	f.DeletionDate = &when
}
