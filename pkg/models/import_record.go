package models

import "time"

// ImportRecord links one remote object to the occurrence materialized from it.
type ImportRecord struct {
	ID                  int64      `db:"id" fieldtag:"pk" json:"id"`
	GlobalObjectID      string     `db:"global_object_id" json:"global_object_id"`
	ObjectType          string     `db:"object_type" json:"object_type"`
	FirstImportedAt     time.Time  `db:"first_imported_at" json:"first_imported_at"`
	LastUpdatedAt       time.Time  `db:"last_updated_at" json:"last_updated_at"`
	RemoteLastUpdatedAt *time.Time `db:"remote_last_updated_at" json:"remote_last_updated_at,omitempty"`
	ManualImportTrigger *string    `db:"manual_import_trigger" json:"manual_import_trigger,omitempty"`
	OccurrenceRef       int64      `db:"occurrence_ref" json:"-"`

	Occurrence *Occurrence `db:"-" json:"occurrence,omitempty"`
}

func (ImportRecord) TableName() string {
	return "import_record"
}

func NewImportRecord(globalObjectID string) *ImportRecord {
	return &ImportRecord{GlobalObjectID: globalObjectID}
}

// IsPersisted reports whether the record has been inserted.
func (r *ImportRecord) IsPersisted() bool {
	return r.ID != 0
}
