package models

type Organism struct {
	ID         int64  `db:"id" fieldtag:"pk" json:"-"`
	OrganismID string `db:"organism_id" json:"organismID"`
	RecordLevel

	OrganismName            *string `db:"organism_name" json:"organismName,omitempty"`
	OrganismScope           *string `db:"organism_scope" json:"organismScope,omitempty"`
	AssociatedOrganisms     *string `db:"associated_organisms" json:"associatedOrganisms,omitempty"`
	PreviousIdentifications *string `db:"previous_identifications" json:"previousIdentifications,omitempty"`
	OrganismRemarks         *string `db:"organism_remarks" json:"organismRemarks,omitempty"`
}

func (Organism) TableName() string {
	return "organism"
}

type Event struct {
	ID      int64  `db:"id" fieldtag:"pk" json:"-"`
	EventID string `db:"event_id" json:"eventID"`
	RecordLevel

	// EventDate is ISO 8601, possibly an interval "start/end"
	EventDate         *string `db:"event_date" json:"eventDate,omitempty"`
	Year              *int    `db:"year" json:"year,omitempty"`
	Month             *int    `db:"month" json:"month,omitempty"`
	Day               *int    `db:"day" json:"day,omitempty"`
	VerbatimEventDate *string `db:"verbatim_event_date" json:"verbatimEventDate,omitempty"`
	Habitat           *string `db:"habitat" json:"habitat,omitempty"`
	SamplingProtocol  *string `db:"sampling_protocol" json:"samplingProtocol,omitempty"`
	FieldNumber       *string `db:"field_number" json:"fieldNumber,omitempty"`
	EventRemarks      *string `db:"event_remarks" json:"eventRemarks,omitempty"`
}

func (Event) TableName() string {
	return "event"
}

type Location struct {
	ID         int64  `db:"id" fieldtag:"pk" json:"-"`
	LocationID string `db:"location_id" json:"locationID"`
	RecordLevel

	HigherGeography               *string  `db:"higher_geography" json:"higherGeography,omitempty"`
	Continent                     *string  `db:"continent" json:"continent,omitempty"`
	Country                       *string  `db:"country" json:"country,omitempty"`
	CountryCode                   *string  `db:"country_code" json:"countryCode,omitempty"`
	StateProvince                 *string  `db:"state_province" json:"stateProvince,omitempty"`
	County                        *string  `db:"county" json:"county,omitempty"`
	Municipality                  *string  `db:"municipality" json:"municipality,omitempty"`
	Locality                      *string  `db:"locality" json:"locality,omitempty"`
	VerbatimLocality              *string  `db:"verbatim_locality" json:"verbatimLocality,omitempty"`
	DecimalLatitude               *float64 `db:"decimal_latitude" json:"decimalLatitude,omitempty"`
	DecimalLongitude              *float64 `db:"decimal_longitude" json:"decimalLongitude,omitempty"`
	GeodeticDatum                 *string  `db:"geodetic_datum" json:"geodeticDatum,omitempty"`
	CoordinateUncertaintyInMeters *float64 `db:"coordinate_uncertainty_in_meters" json:"coordinateUncertaintyInMeters,omitempty"`
	VerbatimLatitude              *string  `db:"verbatim_latitude" json:"verbatimLatitude,omitempty"`
	VerbatimLongitude             *string  `db:"verbatim_longitude" json:"verbatimLongitude,omitempty"`
	MinimumElevationInMeters      *float64 `db:"minimum_elevation_in_meters" json:"minimumElevationInMeters,omitempty"`
	MaximumElevationInMeters      *float64 `db:"maximum_elevation_in_meters" json:"maximumElevationInMeters,omitempty"`
	LocationRemarks               *string  `db:"location_remarks" json:"locationRemarks,omitempty"`
}

func (Location) TableName() string {
	return "location"
}

type Taxon struct {
	ID      int64  `db:"id" fieldtag:"pk" json:"-"`
	TaxonID string `db:"taxon_id" json:"taxonID"`
	RecordLevel

	ScientificName           *string `db:"scientific_name" json:"scientificName,omitempty"`
	ScientificNameAuthorship *string `db:"scientific_name_authorship" json:"scientificNameAuthorship,omitempty"`
	Kingdom                  *string `db:"kingdom" json:"kingdom,omitempty"`
	Phylum                   *string `db:"phylum" json:"phylum,omitempty"`
	Class                    *string `db:"dwc_class" json:"class,omitempty"`
	Order                    *string `db:"dwc_order" json:"order,omitempty"`
	Family                   *string `db:"family" json:"family,omitempty"`
	Genus                    *string `db:"genus" json:"genus,omitempty"`
	SpecificEpithet          *string `db:"specific_epithet" json:"specificEpithet,omitempty"`
	InfraspecificEpithet     *string `db:"infraspecific_epithet" json:"infraspecificEpithet,omitempty"`
	TaxonRank                *string `db:"taxon_rank" json:"taxonRank,omitempty"`
	VernacularName           *string `db:"vernacular_name" json:"vernacularName,omitempty"`
	NomenclaturalCode        *string `db:"nomenclatural_code" json:"nomenclaturalCode,omitempty"`
}

func (Taxon) TableName() string {
	return "taxon"
}

type Identification struct {
	ID               int64  `db:"id" fieldtag:"pk" json:"-"`
	IdentificationID string `db:"identification_id" json:"identificationID"`
	RecordLevel

	IdentifiedBy            *string `db:"identified_by" json:"identifiedBy,omitempty"`
	DateIdentified          *string `db:"date_identified" json:"dateIdentified,omitempty"`
	IdentificationQualifier *string `db:"identification_qualifier" json:"identificationQualifier,omitempty"`
	IdentificationRemarks   *string `db:"identification_remarks" json:"identificationRemarks,omitempty"`
	TypeStatus              *string `db:"type_status" json:"typeStatus,omitempty"`
	VerificationStatus      *string `db:"identification_verification_status" json:"identificationVerificationStatus,omitempty"`

	TaxonRef *int64 `db:"taxon_ref" json:"-"`
}

func (Identification) TableName() string {
	return "identification"
}

// MeasurementOrFact is owned by one occurrence.
type MeasurementOrFact struct {
	ID            int64  `db:"id" fieldtag:"pk" json:"-"`
	MeasurementID string `db:"measurement_id" json:"measurementID"`
	RecordLevel

	OccurrenceRef           int64   `db:"occurrence_ref" json:"-"`
	MeasurementType         *string `db:"measurement_type" json:"measurementType,omitempty"`
	MeasurementValue        *string `db:"measurement_value" json:"measurementValue,omitempty"`
	MeasurementUnit         *string `db:"measurement_unit" json:"measurementUnit,omitempty"`
	MeasurementDeterminedBy *string `db:"measurement_determined_by" json:"measurementDeterminedBy,omitempty"`
	MeasurementRemarks      *string `db:"measurement_remarks" json:"measurementRemarks,omitempty"`
}

func (MeasurementOrFact) TableName() string {
	return "measurement_or_fact"
}

// ResourceRelationship is owned by one occurrence.
type ResourceRelationship struct {
	ID                     int64  `db:"id" fieldtag:"pk" json:"-"`
	ResourceRelationshipID string `db:"resource_relationship_id" json:"resourceRelationshipID"`
	RecordLevel

	OccurrenceRef               int64   `db:"occurrence_ref" json:"-"`
	ResourceID                  *string `db:"resource_id" json:"resourceID,omitempty"`
	RelatedResourceID           *string `db:"related_resource_id" json:"relatedResourceID,omitempty"`
	RelationshipOfResource      *string `db:"relationship_of_resource" json:"relationshipOfResource,omitempty"`
	RelationshipEstablishedDate *string `db:"relationship_established_date" json:"relationshipEstablishedDate,omitempty"`
	RelationshipRemarks         *string `db:"relationship_remarks" json:"relationshipRemarks,omitempty"`
}

func (ResourceRelationship) TableName() string {
	return "resource_relationship"
}
