package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/lichen/pkg/easydb"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
)

const (
	PoolFungarium = "fungarium"

	nestedIdentifications   = "_nested:fungarium__bestimmung"
	nestedCollectionEvents  = "_nested:fungarium__aufsammlung"
	nestedCollectors        = "_nested:fungarium__aufsammlung__sammler"
	nestedMedia             = "_nested:fungarium__medien"
	nestedOtherNumbers      = "_nested:fungarium__weitere_nummern"
	defaultKingdom          = "Fungi"
	defaultNomenclatureCode = "ICN"
	defaultGeodeticDatum    = "WGS84"
	relationshipHost        = "growing on"
	recordTypePhysical      = "PhysicalObject"
)

var mediaFields = []string{"bild", "datei", "asset"}

// FungariumConfig holds the deployment-specific values stamped onto mapped records.
type FungariumConfig struct {
	Pools        []string
	Locales      []string
	DetailURL    string
	Institutions InstitutionRules
	License      string
	RightsHolder string
	DatasetName  string
	Language     string
}

// Fungarium maps fungarium specimen records.
type Fungarium struct {
	cfg    FungariumConfig
	assets AssetResolver
	logger ectologger.Logger
}

// NewFungarium creates the mapping. assets may be nil, in which case only URLs embedded in
// the record are used.
func NewFungarium(cfg FungariumConfig, assets AssetResolver, logger ectologger.Logger) *Fungarium {
	if len(cfg.Pools) == 0 {
		cfg.Pools = []string{PoolFungarium}
	}
	if len(cfg.Locales) == 0 {
		cfg.Locales = DefaultLocales
	}
	return &Fungarium{cfg: cfg, assets: assets, logger: logger}
}

func (m *Fungarium) Name() string {
	return "fungarium"
}

func (m *Fungarium) SupportsPools() []string {
	return m.cfg.Pools
}

func (m *Fungarium) MapOccurrence(ctx context.Context, raw rawrecord.Record, target *models.ImportRecord) error {
	gid, ok := raw.GlobalObjectID()
	if !ok {
		return fmt.Errorf("%w: record has no %s", ErrMissingNaturalKey, rawrecord.FieldGlobalObjectID)
	}
	objectType, _ := raw.ObjectType()
	body := raw.Body()

	target.GlobalObjectID = gid
	target.ObjectType = objectType
	target.RemoteLastUpdatedAt = nil
	if ts, ok := raw.LastModified(); ok {
		target.RemoteLastUpdatedAt = &ts
	}

	base := m.baseRecordLevel(raw)
	accession, _ := body.String("zugangsnummer")
	inst := m.cfg.Institutions.Classify(accession)

	prev := target.Occurrence
	if prev == nil {
		prev = &models.Occurrence{}
	}
	occ := &models.Occurrence{OccurrenceID: gid}
	if prev.OccurrenceID == gid {
		occ.ID = prev.ID
	}

	occ.RecordLevel = base
	occ.Type = models.Ptr(recordTypePhysical)
	occ.ApplyInstitution(inst)
	occ.BasisOfRecord = models.Ptr(models.BasisOfRecordPreservedSpecimen)
	occ.OccurrenceStatus = models.Ptr(models.OccurrenceStatusPresent)
	occ.CatalogNumber = models.Ptr(accession)
	occ.References = models.Ptr(m.detailURL(gid))
	m.mapOccurrenceFields(body, occ)

	organism := &models.Organism{OrganismID: SynthesizeKey(gid, RoleOrganism)}
	if prev.Organism != nil && prev.Organism.OrganismID == organism.OrganismID {
		organism.ID = prev.Organism.ID
	}
	organism.RecordLevel = base
	organism.ApplyInstitution(inst)
	occ.Organism = organism

	m.mapTaxonomy(gid, body, occ, prev)
	m.mapCollectionEvent(gid, body, occ, prev, base)
	m.mapMedia(ctx, gid, body, occ)

	target.Occurrence = occ

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"global_object_id": gid,
		"catalog_number":   accession,
		"institution_code": inst.InstitutionCode,
	}).Debug("Mapped fungarium record")
	return nil
}

func (m *Fungarium) baseRecordLevel(raw rawrecord.Record) models.RecordLevel {
	rl := m.sharedRecordLevel()
	if ts, ok := raw.LastModified(); ok {
		rl.Modified = &ts
	}
	return rl
}

// sharedRecordLevel holds only the deployment-wide terms. Entities linked from many records must
// not carry one record's references, institution or modification time.
func (m *Fungarium) sharedRecordLevel() models.RecordLevel {
	return models.RecordLevel{
		Language:     models.Ptr(m.cfg.Language),
		License:      models.Ptr(m.cfg.License),
		RightsHolder: models.Ptr(m.cfg.RightsHolder),
		DatasetName:  models.Ptr(m.cfg.DatasetName),
	}
}

func (m *Fungarium) detailURL(gid string) string {
	return strings.TrimRight(m.cfg.DetailURL, "/") + "/#/detail/" + gid
}

func (m *Fungarium) mapOccurrenceFields(body rawrecord.Record, occ *models.Occurrence) {
	if s, ok := text(body, m.cfg.Locales, "praeparation", "praeparation_text"); ok {
		occ.Preparations = &s
	}
	if s, ok := text(body, m.cfg.Locales, "verbleib"); ok {
		occ.Disposition = &s
	}
	if s, ok := text(body, m.cfg.Locales, "bemerkung"); ok {
		occ.OccurrenceRemarks = &s
	}
	if s, ok := body.String("literatur"); ok {
		occ.AssociatedReferences = &s
	}

	var numbers []string
	for _, row := range body.List(nestedOtherNumbers) {
		if s, ok := row.String("nummer"); ok {
			numbers = append(numbers, s)
		}
	}
	occ.OtherCatalogNumbers = models.Ptr(joinPipe(numbers))
}

// mapTaxonomy links the first identification and its taxon; later identifications become the
// organism's previous identifications.
func (m *Fungarium) mapTaxonomy(gid string, body rawrecord.Record, occ, prev *models.Occurrence) {
	identifications := body.List(nestedIdentifications)
	if len(identifications) == 0 {
		return
	}

	first := identifications[0]
	name, taxonBody := m.scientificName(first)

	if name.Full != "" || name.Genus != "" {
		taxonKey := ContentKey(RoleTaxon, name.Full)
		if linkedGID, ok := first.Get("taxon").GlobalObjectID(); ok {
			taxonKey = linkedGID
		}

		taxon := &models.Taxon{TaxonID: taxonKey}
		if prev.Taxon != nil && prev.Taxon.TaxonID == taxonKey {
			taxon.ID = prev.Taxon.ID
		}
		taxon.RecordLevel = m.sharedRecordLevel()
		taxon.ScientificName = models.Ptr(name.Full)
		taxon.Genus = models.Ptr(name.Genus)
		taxon.SpecificEpithet = models.Ptr(name.SpecificEpithet)
		taxon.InfraspecificEpithet = models.Ptr(name.InfraspecificEpithet)
		taxon.Kingdom = models.Ptr(defaultKingdom)
		taxon.NomenclaturalCode = models.Ptr(defaultNomenclatureCode)
		taxon.TaxonRank = models.Ptr(name.Rank())
		if s, ok := text(taxonBody, m.cfg.Locales, "rang"); ok {
			taxon.TaxonRank = &s
		}
		if s, ok := taxonBody.String("autor"); ok {
			taxon.ScientificNameAuthorship = &s
		}
		if s, ok := text(taxonBody, m.cfg.Locales, "abteilung"); ok {
			taxon.Phylum = &s
		}
		if s, ok := text(taxonBody, m.cfg.Locales, "klasse"); ok {
			taxon.Class = &s
		}
		if s, ok := text(taxonBody, m.cfg.Locales, "ordnung"); ok {
			taxon.Order = &s
		}
		if s, ok := text(taxonBody, m.cfg.Locales, "familie"); ok {
			taxon.Family = &s
		}
		if s, ok := text(taxonBody, m.cfg.Locales, "trivialname"); ok {
			taxon.VernacularName = &s
		}
		occ.Taxon = taxon
	}

	identificationKey := SynthesizeKey(gid, RoleIdentification, "0")
	if id, ok := first.Int("_id"); ok {
		identificationKey = NestedKey(gid, "bestimmung", id)
	}
	identification := &models.Identification{IdentificationID: identificationKey}
	if prev.Identification != nil && prev.Identification.IdentificationID == identificationKey {
		identification.ID = prev.Identification.ID
	}
	identification.RecordLevel = occ.RecordLevel
	identification.Type = nil
	identification.BasisOfRecord = nil
	if s := m.personNames(first, "bestimmer", "bestimmer_text"); s != "" {
		identification.IdentifiedBy = &s
	}
	if verbatim := dateText(first, "datum"); verbatim != "" {
		if dr, ok := ParseDate(verbatim); ok {
			identification.DateIdentified = models.Ptr(dr.ISO())
		} else {
			identification.DateIdentified = &verbatim
		}
	}
	if s, ok := text(first, m.cfg.Locales, "qualifier", "unsicherheit"); ok {
		identification.IdentificationQualifier = &s
	}
	if s, ok := text(first, m.cfg.Locales, "bemerkung"); ok {
		identification.IdentificationRemarks = &s
	}
	if s, ok := text(first, m.cfg.Locales, "typusstatus"); ok {
		identification.TypeStatus = &s
	}
	occ.Identification = identification

	var previous []string
	for _, later := range identifications[1:] {
		if n, _ := m.scientificName(later); n.Full != "" {
			previous = append(previous, n.Full)
		}
	}
	occ.Organism.PreviousIdentifications = models.Ptr(joinPipe(previous))
}

// scientificName reads the name of an identification row and returns the taxon body it came from.
func (m *Fungarium) scientificName(identification rawrecord.Record) (ScientificName, rawrecord.Record) {
	taxonBody := linked(identification.Get("taxon"))
	if taxonBody.IsNull() {
		taxonBody = identification
	}

	full, ok := text(taxonBody, m.cfg.Locales, "wissenschaftlicher_name", "name_ascii", "name")
	if !ok {
		full, _ = taxonBody.Localized(m.cfg.Locales, "_standard", "1", "text")
	}
	genus, _ := taxonBody.String("gattung")
	species, _ := taxonBody.String("art")

	name := ParseScientificName(full, genus, species)
	if s, ok := taxonBody.String("unterart"); ok {
		name.InfraspecificEpithet = s
	}
	return name, taxonBody
}

// mapCollectionEvent maps the first collection event with its place and substrate.
func (m *Fungarium) mapCollectionEvent(gid string, body rawrecord.Record, occ, prev *models.Occurrence, base models.RecordLevel) {
	first, ok := body.First(nestedCollectionEvents)
	if !ok {
		return
	}

	eventKey := SynthesizeKey(gid, RoleEvent)
	if id, ok := first.Int("_id"); ok {
		eventKey = NestedKey(gid, "aufsammlung", id)
	}
	event := &models.Event{EventID: eventKey}
	if prev.Event != nil && prev.Event.EventID == eventKey {
		event.ID = prev.Event.ID
	}
	event.RecordLevel = base

	if verbatim := dateText(first, "datum"); verbatim != "" {
		event.VerbatimEventDate = &verbatim
		if dr, ok := ParseDate(verbatim); ok {
			event.EventDate = models.Ptr(dr.ISO())
			event.Year = intPtr(dr.Start.Year)
			event.Month = intPtr(dr.Start.Month)
			event.Day = intPtr(dr.Start.Day)
		}
	}

	var collectors []string
	for _, row := range first.List(nestedCollectors) {
		if name := m.personNames(row, "sammler", "name"); name != "" {
			collectors = append(collectors, name)
		}
	}
	recordedBy := joinPipe(collectors)
	if recordedBy == "" {
		recordedBy = m.personNames(first, "sammler", "sammler_text")
	}
	occ.RecordedBy = models.Ptr(recordedBy)

	if s, ok := first.Coalesce([]string{"sammelnummer"}, []string{"feldnummer"}); ok {
		occ.RecordNumber = &s
		event.FieldNumber = &s
	}
	habitat, _ := text(first, m.cfg.Locales, "habitat")
	event.Habitat = models.Ptr(habitat)
	if s, ok := text(first, m.cfg.Locales, "methode"); ok {
		event.SamplingProtocol = &s
	}
	if s, ok := text(first, m.cfg.Locales, "bemerkung"); ok {
		event.EventRemarks = &s
	}
	occ.Event = event

	m.mapLocation(gid, first, occ, prev, base)

	substrate, _ := text(first, m.cfg.Locales, "substrat")
	if substrate != "" {
		occ.Measurements = append(occ.Measurements, m.measurement(gid, "substrate", substrate, recordedBy, base))
	}
	if habitat != "" {
		occ.Measurements = append(occ.Measurements, m.measurement(gid, "habitat", habitat, recordedBy, base))
	}

	host := first.Get("wirt")
	if host.IsNull() {
		host = body.Get("wirt")
	}
	if hostName, hostID := m.host(host); hostName != "" || hostID != "" {
		rel := &models.ResourceRelationship{ResourceRelationshipID: SynthesizeKey(gid, RoleRelationship, "host")}
		rel.RecordLevel = base
		rel.ResourceID = models.Ptr(gid)
		rel.RelatedResourceID = models.Ptr(hostID)
		rel.RelationshipOfResource = models.Ptr(relationshipHost)
		rel.RelationshipRemarks = models.Ptr(hostName)
		occ.Relationships = append(occ.Relationships, rel)
		if hostName != "" {
			occ.AssociatedTaxa = models.Ptr("host: " + hostName)
		}
	}
}

func (m *Fungarium) measurement(gid, kind, value, determinedBy string, base models.RecordLevel) *models.MeasurementOrFact {
	mof := &models.MeasurementOrFact{MeasurementID: SynthesizeKey(gid, RoleMeasurement, kind)}
	mof.RecordLevel = base
	mof.MeasurementType = models.Ptr(kind)
	mof.MeasurementValue = models.Ptr(value)
	mof.MeasurementDeterminedBy = models.Ptr(determinedBy)
	return mof
}

func (m *Fungarium) host(host rawrecord.Record) (name, id string) {
	if host.IsNull() {
		return "", ""
	}
	if s, ok := host.String(); ok {
		return s, ""
	}
	id, _ = host.GlobalObjectID()
	hostBody := linked(host)
	name, ok := text(hostBody, m.cfg.Locales, "wissenschaftlicher_name", "name")
	if !ok {
		name, _ = host.Localized(m.cfg.Locales, "_standard", "1", "text")
	}
	return name, id
}

// eventLocationFields are the location terms a collection event may record for itself.
var eventLocationFields = []string{
	"lokalitaet", "fundort_text", "fundort_verbatim", "breitengrad", "laengengrad",
	"genauigkeit_m", "hoehe", "hoehe_min", "hoehe_max",
}

// mapLocation resolves the place of a collection event. A place with its own global id is shared
// between records and only carries the place's terms. When the event records its own locality or
// coordinates the location belongs to this record alone, and the event's values win.
func (m *Fungarium) mapLocation(gid string, event rawrecord.Record, occ, prev *models.Occurrence, base models.RecordLevel) {
	place := event.Get("fundort")
	placeBody := linked(place)

	sources := []rawrecord.Record{event, placeBody}
	locationKey := SynthesizeKey(gid, RoleLocation)
	recordLevel := base
	if placeGID, ok := place.GlobalObjectID(); ok && !hasAny(event, eventLocationFields) {
		locationKey = placeGID
		sources = []rawrecord.Record{placeBody}
		recordLevel = m.sharedRecordLevel()
	}
	location := &models.Location{LocationID: locationKey}
	if prev.Location != nil && prev.Location.LocationID == locationKey {
		location.ID = prev.Location.ID
	}
	location.RecordLevel = recordLevel

	geo := ClassifyPath(m.placePath(placeBody))
	location.Continent = models.Ptr(geo.Continent)
	location.Country = models.Ptr(geo.Country)
	location.StateProvince = models.Ptr(geo.StateProvince)
	location.County = models.Ptr(geo.County)
	location.Municipality = models.Ptr(geo.Municipality)
	location.HigherGeography = models.Ptr(geo.HigherGeography())
	if s, ok := placeBody.String("laendercode"); ok {
		location.CountryCode = models.Ptr(strings.ToUpper(s))
	}

	for _, r := range sources {
		if s, ok := text(r, m.cfg.Locales, "lokalitaet", "fundort_text"); ok {
			location.Locality = &s
			break
		}
	}
	location.VerbatimLocality = models.Ptr(firstString(sources, "fundort_verbatim"))

	latText := firstString(sources, "breitengrad")
	lonText := firstString(sources, "laengengrad")
	location.VerbatimLatitude = models.Ptr(latText)
	location.VerbatimLongitude = models.Ptr(lonText)
	if lat, ok := ParseCoordinate(latText); ok && ValidLatitude(lat) {
		location.DecimalLatitude = &lat
	}
	if lon, ok := ParseCoordinate(lonText); ok && ValidLongitude(lon) {
		location.DecimalLongitude = &lon
	}
	if location.DecimalLatitude != nil && location.DecimalLongitude != nil {
		location.GeodeticDatum = models.Ptr(defaultGeodeticDatum)
	}

	for _, r := range sources {
		if v, ok := r.Float("genauigkeit_m"); ok {
			location.CoordinateUncertaintyInMeters = &v
			break
		}
	}
	for _, r := range sources {
		minElevation, okMin := r.Float("hoehe_min")
		maxElevation, okMax := r.Float("hoehe_max")
		if single, ok := r.Float("hoehe"); ok && !okMin && !okMax {
			minElevation, maxElevation, okMin, okMax = single, single, true, true
		}
		if okMin || okMax {
			if okMin {
				location.MinimumElevationInMeters = &minElevation
			}
			if okMax {
				location.MaximumElevationInMeters = &maxElevation
			}
			break
		}
	}
	if s, ok := text(placeBody, m.cfg.Locales, "bemerkung"); ok {
		location.LocationRemarks = &s
	}

	occ.Location = location
}

// placePath returns the path levels of a place, outermost first.
func (m *Fungarium) placePath(place rawrecord.Record) []string {
	var levels []string
	for _, level := range place.List("_path") {
		levelBody := linked(level)
		if s, ok := text(levelBody, m.cfg.Locales, "name"); ok {
			levels = append(levels, s)
		} else if s, ok := level.Localized(m.cfg.Locales, "_standard", "1", "text"); ok {
			levels = append(levels, s)
		}
	}
	if len(levels) > 0 {
		return levels
	}
	if s, ok := place.String("pfad"); ok {
		return SplitPath(s)
	}
	if s, ok := text(place, m.cfg.Locales, "name"); ok {
		return []string{s}
	}
	return nil
}

type mediaRef struct {
	url string
	id  int64
}

// mapMedia collects asset URLs in record order. Assets without an embedded usable version are
// looked up through the asset resolver.
func (m *Fungarium) mapMedia(ctx context.Context, gid string, body rawrecord.Record, occ *models.Occurrence) {
	var refs []mediaRef
	var missing []int64
	for _, medium := range body.List(nestedMedia) {
		for _, field := range mediaFields {
			for _, asset := range medium.List(field) {
				if u, ok := easydb.VersionURL(asset); ok {
					refs = append(refs, mediaRef{url: u})
					continue
				}
				if id, ok := asset.Int("_id"); ok {
					refs = append(refs, mediaRef{id: id})
					missing = append(missing, id)
				}
			}
		}
	}

	if len(missing) > 0 && m.assets != nil {
		resolved, err := m.assets.Resolve(ctx, missing)
		if err != nil {
			m.logger.WithContext(ctx).WithError(err).WithField("global_object_id", gid).Warn("Failed to resolve asset urls")
		}
		for i := range refs {
			if refs[i].url == "" {
				refs[i].url = resolved[refs[i].id]
			}
		}
	}

	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		urls = append(urls, ref.url)
	}
	occ.AssociatedMedia = models.Ptr(joinPipe(urls))
}

// personNames reads a person reference: a linked person object, a list of them, or flat text.
func (m *Fungarium) personNames(r rawrecord.Record, field string, flatFallbacks ...string) string {
	var names []string
	for _, ref := range r.List(field) {
		if name := m.personName(ref); name != "" {
			names = append(names, name)
		}
	}
	if s, ok := r.String(field); ok {
		names = append(names, s)
	}
	if len(names) > 0 {
		return joinPipe(names)
	}
	for _, flat := range flatFallbacks {
		if s, ok := r.String(flat); ok {
			return s
		}
	}
	return ""
}

func (m *Fungarium) personName(ref rawrecord.Record) string {
	if s, ok := ref.String(); ok {
		return s
	}
	person := linked(ref)
	if s, ok := text(person, m.cfg.Locales, "name", "name_ascii"); ok {
		return s
	}
	first, _ := person.String("vorname")
	last, _ := person.String("nachname")
	if full := strings.TrimSpace(first + " " + last); full != "" {
		return full
	}
	s, _ := ref.Localized(m.cfg.Locales, "_standard", "1", "text")
	return s
}

// linked returns the body of a linked object ({"_objecttype": "taxon", "taxon": {...}}), or
// the record itself when it is not wrapped.
func linked(r rawrecord.Record) rawrecord.Record {
	if r.IsNull() {
		return r
	}
	if objectType, ok := r.ObjectType(); ok {
		if inner := r.Child(objectType); !inner.IsNull() {
			return inner
		}
	}
	return r
}

// dateText reads a date field that is either plain text, {"value": ...} or a {"from", "to"} range.
func dateText(r rawrecord.Record, field string) string {
	if s, ok := r.String(field); ok {
		return s
	}
	if s, ok := r.String(field, "value"); ok {
		return s
	}
	from, okFrom := r.String(field, "from")
	to, okTo := r.String(field, "to")
	switch {
	case okFrom && okTo && from != to:
		return from + " - " + to
	case okFrom:
		return from
	case okTo:
		return to
	}
	if s, ok := r.String(field + "_verbatim"); ok {
		return s
	}
	return ""
}

func hasAny(r rawrecord.Record, fields []string) bool {
	for _, field := range fields {
		if !r.Get(field).IsNull() {
			return true
		}
	}
	return false
}

func firstString(records []rawrecord.Record, field string) string {
	for _, r := range records {
		if s, ok := r.String(field); ok {
			return s
		}
	}
	return ""
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
