package repositories

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/lichen/pkg/database"
	"github.com/Ramsey-B/lichen/pkg/metrics"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

var (
	occurrenceWritable     = occurrenceStruct.Writable()
	organismWritable       = organismStruct.Writable()
	eventWritable          = eventStruct.Writable()
	locationWritable       = locationStruct.Writable()
	taxonWritable          = taxonStruct.Writable()
	identificationWritable = identificationStruct.Writable()
	measurementWritable    = measurementStruct.Writable()
	relationshipWritable   = relationshipStruct.Writable()
)

// GraphStore persists an import record together with its occurrence graph. Every entity is
// resolved by natural key first, so entities shared between occurrences map to one row.
type GraphStore struct {
	*Repository
	imports *ImportRecordRepository
}

// NewGraphStore creates a new graph store
func NewGraphStore(db database.DB, imports *ImportRecordRepository, logger ectologger.Logger) *GraphStore {
	return &GraphStore{
		Repository: NewRepository(db, logger),
		imports:    imports,
	}
}

// Save writes the graph on the transaction carried by ctx, or on the pool when there is none.
// It never commits. Surrogate ids and reference columns are filled in on record as it goes.
func (s *GraphStore) Save(ctx context.Context, record *models.ImportRecord) error {
	ctx, span := tracing.StartSpan(ctx, "GraphStore.Save")
	defer span.End()

	occ := record.Occurrence
	if occ == nil {
		return fmt.Errorf("import record %s has no occurrence", record.GlobalObjectID)
	}
	exec := s.exec(ctx)

	occ.OrganismRef, occ.EventRef, occ.LocationRef, occ.TaxonRef, occ.IdentificationRef = nil, nil, nil, nil, nil

	if o := occ.Organism; o != nil {
		if err := s.upsert(ctx, exec, organismWritable, organismsTable, "organism_id", o.OrganismID, o, &o.ID); err != nil {
			return err
		}
		occ.OrganismRef = &o.ID
	}
	if e := occ.Event; e != nil {
		if err := s.upsert(ctx, exec, eventWritable, eventsTable, "event_id", e.EventID, e, &e.ID); err != nil {
			return err
		}
		occ.EventRef = &e.ID
	}
	if l := occ.Location; l != nil {
		if err := s.upsert(ctx, exec, locationWritable, locationsTable, "location_id", l.LocationID, l, &l.ID); err != nil {
			return err
		}
		occ.LocationRef = &l.ID
	}
	if t := occ.Taxon; t != nil {
		if err := s.upsert(ctx, exec, taxonWritable, taxaTable, "taxon_id", t.TaxonID, t, &t.ID); err != nil {
			return err
		}
		occ.TaxonRef = &t.ID
	}
	if i := occ.Identification; i != nil {
		i.TaxonRef = occ.TaxonRef
		if err := s.upsert(ctx, exec, identificationWritable, identificationsTable, "identification_id", i.IdentificationID, i, &i.ID); err != nil {
			return err
		}
		occ.IdentificationRef = &i.ID
	}

	if err := s.upsert(ctx, exec, occurrenceWritable, occurrencesTable, "occurrence_id", occ.OccurrenceID, occ, &occ.ID); err != nil {
		return err
	}

	keep := make([]string, 0, len(occ.Measurements))
	for _, m := range occ.Measurements {
		m.OccurrenceRef = occ.ID
		if err := s.upsert(ctx, exec, measurementWritable, measurementsTable, "measurement_id", m.MeasurementID, m, &m.ID); err != nil {
			return err
		}
		keep = append(keep, m.MeasurementID)
	}
	if err := s.prune(ctx, exec, measurementsTable, "measurement_id", occ.ID, keep); err != nil {
		return err
	}

	keep = make([]string, 0, len(occ.Relationships))
	for _, rel := range occ.Relationships {
		rel.OccurrenceRef = occ.ID
		if err := s.upsert(ctx, exec, relationshipWritable, relationshipsTable, "resource_relationship_id", rel.ResourceRelationshipID, rel, &rel.ID); err != nil {
			return err
		}
		keep = append(keep, rel.ResourceRelationshipID)
	}
	if err := s.prune(ctx, exec, relationshipsTable, "resource_relationship_id", occ.ID, keep); err != nil {
		return err
	}

	record.OccurrenceRef = occ.ID
	if record.IsPersisted() {
		return s.imports.Update(ctx, record)
	}
	return s.imports.Insert(ctx, record)
}

// upsert resolves entity by natural key, inserting it when absent and overwriting its columns
// when present. The surrogate id is written to id.
func (s *GraphStore) upsert(ctx context.Context, exec database.Executor, st *database.Struct, table, column, key string, entity any, id *int64) error {
	naturalKey := database.NaturalKey{Table: table, Column: column, Value: key}

	result, err := database.FindOrCreate(ctx, exec, naturalKey, func() *database.InsertBuilder {
		return st.InsertInto(table, entity)
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("natural_key", naturalKey.String()).Error("failed to resolve entity")
		return fmt.Errorf("resolve %s: %w", naturalKey, err)
	}
	if result.Attempts > 1 {
		metrics.FindOrCreateRetries.WithLabelValues(table).Add(float64(result.Attempts - 1))
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"natural_key": naturalKey.String(),
			"attempts":    result.Attempts,
		}).Debug("Resolved entity after concurrent insert")
	}
	*id = result.ID

	if result.Created {
		return nil
	}

	ub := st.Update(table, entity)
	ub.Where(ub.Equal("id", result.ID))
	query, args := ub.Build()
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("natural_key", naturalKey.String()).Error("failed to update entity")
		return fmt.Errorf("update %s: %w", naturalKey, err)
	}
	return nil
}

// prune deletes the rows an occurrence owns in table that are no longer in keep.
func (s *GraphStore) prune(ctx context.Context, exec database.Executor, table, column string, occurrenceRef int64, keep []string) error {
	db := database.NewDeleteBuilder()
	db.DeleteFrom(table)
	if len(keep) == 0 {
		db.Where(db.Equal("occurrence_ref", occurrenceRef))
	} else {
		db.Where(db.Equal("occurrence_ref", occurrenceRef), db.NotIn(column, sqlbuilder.Flatten(keep)...))
	}

	query, args := db.Build()
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"table":          table,
			"occurrence_ref": occurrenceRef,
		}).Error("failed to prune owned rows")
		return fmt.Errorf("prune %s: %w", table, err)
	}
	return nil
}
