package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/lichen/pkg/database"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const (
	importRecordsTable   = "import_record"
	occurrencesTable     = "occurrence"
	organismsTable       = "organism"
	eventsTable          = "event"
	locationsTable       = "location"
	taxaTable            = "taxon"
	identificationsTable = "identification"
	measurementsTable    = "measurement_or_fact"
	relationshipsTable   = "resource_relationship"
)

var (
	importRecordStruct   = database.NewStruct(new(models.ImportRecord))
	occurrenceStruct     = database.NewStruct(new(models.Occurrence))
	organismStruct       = database.NewStruct(new(models.Organism))
	eventStruct          = database.NewStruct(new(models.Event))
	locationStruct       = database.NewStruct(new(models.Location))
	taxonStruct          = database.NewStruct(new(models.Taxon))
	identificationStruct = database.NewStruct(new(models.Identification))
	measurementStruct    = database.NewStruct(new(models.MeasurementOrFact))
	relationshipStruct   = database.NewStruct(new(models.ResourceRelationship))
)

// ImportRecordRepository handles database operations for import records and loads the
// occurrence graph they own.
type ImportRecordRepository struct {
	*Repository
}

// NewImportRecordRepository creates a new import record repository
func NewImportRecordRepository(db database.DB, logger ectologger.Logger) *ImportRecordRepository {
	return &ImportRecordRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetByGlobalObjectID retrieves an import record with its full occurrence graph
func (r *ImportRecordRepository) GetByGlobalObjectID(ctx context.Context, globalObjectID string) (*models.ImportRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "ImportRecordRepository.GetByGlobalObjectID")
	defer span.End()

	sb := importRecordStruct.SelectFrom(importRecordsTable)
	sb.Where(sb.Equal("global_object_id", globalObjectID))

	query, args := sb.Build()
	var record models.ImportRecord
	err := r.exec(ctx).GetContext(ctx, &record, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("import record %s does not exist", globalObjectID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"global_object_id": globalObjectID,
		}).Error("failed to get import record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import record")
	}

	occurrence, err := r.loadOccurrence(ctx, record.OccurrenceRef)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"global_object_id": globalObjectID,
			"occurrence_ref":   record.OccurrenceRef,
		}).Error("failed to load occurrence graph")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load occurrence graph")
	}
	record.Occurrence = occurrence

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"global_object_id": globalObjectID,
	}).Debugf("Got %s", importRecordsTable)
	return &record, nil
}

func (r *ImportRecordRepository) loadOccurrence(ctx context.Context, id int64) (*models.Occurrence, error) {
	exec := r.exec(ctx)

	var occ models.Occurrence
	if err := getByID(ctx, exec, occurrenceStruct, occurrencesTable, id, &occ); err != nil {
		return nil, err
	}

	if occ.OrganismRef != nil {
		occ.Organism = new(models.Organism)
		if err := getByID(ctx, exec, organismStruct, organismsTable, *occ.OrganismRef, occ.Organism); err != nil {
			return nil, err
		}
	}
	if occ.EventRef != nil {
		occ.Event = new(models.Event)
		if err := getByID(ctx, exec, eventStruct, eventsTable, *occ.EventRef, occ.Event); err != nil {
			return nil, err
		}
	}
	if occ.LocationRef != nil {
		occ.Location = new(models.Location)
		if err := getByID(ctx, exec, locationStruct, locationsTable, *occ.LocationRef, occ.Location); err != nil {
			return nil, err
		}
	}
	if occ.TaxonRef != nil {
		occ.Taxon = new(models.Taxon)
		if err := getByID(ctx, exec, taxonStruct, taxaTable, *occ.TaxonRef, occ.Taxon); err != nil {
			return nil, err
		}
	}
	if occ.IdentificationRef != nil {
		occ.Identification = new(models.Identification)
		if err := getByID(ctx, exec, identificationStruct, identificationsTable, *occ.IdentificationRef, occ.Identification); err != nil {
			return nil, err
		}
	}

	sb := measurementStruct.SelectFrom(measurementsTable)
	sb.Where(sb.Equal("occurrence_ref", id)).OrderBy("id")
	query, args := sb.Build()
	if err := exec.SelectContext(ctx, &occ.Measurements, query, args...); err != nil {
		return nil, err
	}

	sb = relationshipStruct.SelectFrom(relationshipsTable)
	sb.Where(sb.Equal("occurrence_ref", id)).OrderBy("id")
	query, args = sb.Build()
	if err := exec.SelectContext(ctx, &occ.Relationships, query, args...); err != nil {
		return nil, err
	}

	return &occ, nil
}

func getByID(ctx context.Context, exec database.Executor, st *database.Struct, table string, id int64, dest any) error {
	sb := st.SelectFrom(table)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()
	return exec.GetContext(ctx, dest, query, args...)
}

// Insert creates a new import record. OccurrenceRef must already point at a persisted occurrence.
func (r *ImportRecordRepository) Insert(ctx context.Context, record *models.ImportRecord) error {
	ctx, span := tracing.StartSpan(ctx, "ImportRecordRepository.Insert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(importRecordsTable).
		Cols("global_object_id", "object_type", "first_imported_at", "last_updated_at",
			"remote_last_updated_at", "manual_import_trigger", "occurrence_ref").
		Values(record.GlobalObjectID, record.ObjectType, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"),
			record.RemoteLastUpdatedAt, record.ManualImportTrigger, record.OccurrenceRef).
		Returning("id", "first_imported_at", "last_updated_at")

	query, args := ib.Build()
	err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&record.ID, &record.FirstImportedAt, &record.LastUpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"global_object_id": record.GlobalObjectID,
		}).Error("failed to insert import record")
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"global_object_id": record.GlobalObjectID,
		"import_record_id": record.ID,
	}).Debugf("Created %s", importRecordsTable)
	return nil
}

// Update writes the mutable columns of an existing import record
func (r *ImportRecordRepository) Update(ctx context.Context, record *models.ImportRecord) error {
	ctx, span := tracing.StartSpan(ctx, "ImportRecordRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(importRecordsTable).
		Set(
			ub.Assign("object_type", record.ObjectType),
			ub.Assign("remote_last_updated_at", record.RemoteLastUpdatedAt),
			ub.Assign("manual_import_trigger", record.ManualImportTrigger),
			ub.Assign("occurrence_ref", record.OccurrenceRef),
			ub.Assign("last_updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", record.ID))
	ub.SQL("RETURNING last_updated_at")

	query, args := ub.Build()
	err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&record.LastUpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("import record %s does not exist", record.GlobalObjectID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"global_object_id": record.GlobalObjectID,
		}).Error("failed to update import record")
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"global_object_id": record.GlobalObjectID,
	}).Debugf("Updated %s", importRecordsTable)
	return nil
}

// ListPage returns import records ordered by id, without their graphs
func (r *ImportRecordRepository) ListPage(ctx context.Context, offset, limit int) ([]models.ImportRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "ImportRecordRepository.ListPage")
	defer span.End()

	sb := importRecordStruct.SelectFrom(importRecordsTable)
	sb.OrderBy("id").Offset(offset).Limit(limit)

	query, args := sb.Build()
	var records []models.ImportRecord
	if err := r.exec(ctx).SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"offset": offset,
			"limit":  limit,
		}).Error("failed to list import records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import records")
	}

	r.logger.WithContext(ctx).Debugf("Listed %d %s at offset %d", len(records), importRecordsTable, offset)
	return records, nil
}

// Count returns the number of import records
func (r *ImportRecordRepository) Count(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "ImportRecordRepository.Count")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(importRecordsTable)

	query, args := sb.Build()
	var count int
	if err := r.exec(ctx).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to count import records")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count import records")
	}
	return count, nil
}

// DeleteByGlobalObjectID removes the occurrence owned by the record; the import record, its
// measurements and relationships follow through ON DELETE CASCADE. Shared entities stay.
func (r *ImportRecordRepository) DeleteByGlobalObjectID(ctx context.Context, globalObjectID string) error {
	ctx, span := tracing.StartSpan(ctx, "ImportRecordRepository.DeleteByGlobalObjectID")
	defer span.End()

	sub := database.NewSelectBuilder()
	sub.Select("occurrence_ref").From(importRecordsTable).Where(sub.Equal("global_object_id", globalObjectID))

	db := database.NewDeleteBuilder()
	db.DeleteFrom(occurrencesTable).Where(db.In("id", sub))

	query, args := db.Build()
	result, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"global_object_id": globalObjectID,
		}).Error("failed to delete import record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete import record")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete import record")
	}
	if rows == 0 {
		return NotFound("import record %s does not exist", globalObjectID)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"global_object_id": globalObjectID,
	}).Infof("Deleted %s", importRecordsTable)
	return nil
}
