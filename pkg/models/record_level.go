package models

import "time"

// RecordLevel holds the Darwin Core record-level terms shared by every class.
type RecordLevel struct {
	Type                  *string    `db:"type" json:"type,omitempty"`
	Modified              *time.Time `db:"modified" json:"modified,omitempty"`
	Language              *string    `db:"language" json:"language,omitempty"`
	License               *string    `db:"license" json:"license,omitempty"`
	RightsHolder          *string    `db:"rights_holder" json:"rightsHolder,omitempty"`
	AccessRights          *string    `db:"access_rights" json:"accessRights,omitempty"`
	BibliographicCitation *string    `db:"bibliographic_citation" json:"bibliographicCitation,omitempty"`
	References            *string    `db:"dc_references" json:"references,omitempty"`
	InstitutionID         *string    `db:"institution_id" json:"institutionID,omitempty"`
	CollectionID          *string    `db:"collection_id" json:"collectionID,omitempty"`
	DatasetID             *string    `db:"dataset_id" json:"datasetID,omitempty"`
	InstitutionCode       *string    `db:"institution_code" json:"institutionCode,omitempty"`
	CollectionCode        *string    `db:"collection_code" json:"collectionCode,omitempty"`
	DatasetName           *string    `db:"dataset_name" json:"datasetName,omitempty"`
	OwnerInstitutionCode  *string    `db:"owner_institution_code" json:"ownerInstitutionCode,omitempty"`
	BasisOfRecord         *string    `db:"basis_of_record" json:"basisOfRecord,omitempty"`
	InformationWithheld   *string    `db:"information_withheld" json:"informationWithheld,omitempty"`
	DataGeneralizations   *string    `db:"data_generalizations" json:"dataGeneralizations,omitempty"`
	DynamicProperties     *string    `db:"dynamic_properties" json:"dynamicProperties,omitempty"`
}

// Institution is the institutional identity stamped onto records.
type Institution struct {
	InstitutionCode string
	InstitutionID   string
	CollectionCode  string
	CollectionID    string
}

// ApplyInstitution copies inst onto the record-level terms.
func (r *RecordLevel) ApplyInstitution(inst Institution) {
	r.InstitutionCode = Ptr(inst.InstitutionCode)
	r.InstitutionID = Ptr(inst.InstitutionID)
	r.CollectionCode = Ptr(inst.CollectionCode)
	r.CollectionID = Ptr(inst.CollectionID)
	r.OwnerInstitutionCode = Ptr(inst.InstitutionCode)
}

// Ptr returns a pointer to s, or nil for the empty string.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
