package models

const (
	BasisOfRecordPreservedSpecimen = "PreservedSpecimen"
	OccurrenceStatusPresent        = "present"
)

// Occurrence is the hub of the imported graph. Linked entities may be shared with other
// occurrences; the *Ref columns hold their surrogate keys once persisted.
type Occurrence struct {
	ID           int64  `db:"id" fieldtag:"pk" json:"-"`
	OccurrenceID string `db:"occurrence_id" json:"occurrenceID"`
	RecordLevel

	CatalogNumber        *string `db:"catalog_number" json:"catalogNumber,omitempty"`
	OtherCatalogNumbers  *string `db:"other_catalog_numbers" json:"otherCatalogNumbers,omitempty"`
	RecordNumber         *string `db:"record_number" json:"recordNumber,omitempty"`
	RecordedBy           *string `db:"recorded_by" json:"recordedBy,omitempty"`
	Preparations         *string `db:"preparations" json:"preparations,omitempty"`
	Disposition          *string `db:"disposition" json:"disposition,omitempty"`
	OccurrenceStatus     *string `db:"occurrence_status" json:"occurrenceStatus,omitempty"`
	OccurrenceRemarks    *string `db:"occurrence_remarks" json:"occurrenceRemarks,omitempty"`
	AssociatedMedia      *string `db:"associated_media" json:"associatedMedia,omitempty"`
	AssociatedReferences *string `db:"associated_references" json:"associatedReferences,omitempty"`
	AssociatedTaxa       *string `db:"associated_taxa" json:"associatedTaxa,omitempty"`

	OrganismRef       *int64 `db:"organism_ref" json:"-"`
	EventRef          *int64 `db:"event_ref" json:"-"`
	LocationRef       *int64 `db:"location_ref" json:"-"`
	TaxonRef          *int64 `db:"taxon_ref" json:"-"`
	IdentificationRef *int64 `db:"identification_ref" json:"-"`

	Organism       *Organism       `db:"-" json:"organism,omitempty"`
	Event          *Event          `db:"-" json:"event,omitempty"`
	Location       *Location       `db:"-" json:"location,omitempty"`
	Taxon          *Taxon          `db:"-" json:"taxon,omitempty"`
	Identification *Identification `db:"-" json:"identification,omitempty"`

	Measurements  []*MeasurementOrFact    `db:"-" json:"measurements,omitempty"`
	Relationships []*ResourceRelationship `db:"-" json:"relationships,omitempty"`
}

func (Occurrence) TableName() string {
	return "occurrence"
}

func NewOccurrence(occurrenceID string) *Occurrence {
	return &Occurrence{OccurrenceID: occurrenceID}
}
