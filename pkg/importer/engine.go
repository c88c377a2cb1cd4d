// Package importer turns one raw remote record into a persisted occurrence graph. The Engine
// applies the timestamp guard and stages the graph; the Orchestrator fetches, picks a mapping,
// owns the transaction and wraps every failure.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/lichen/pkg/mapping"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
	"github.com/Ramsey-B/lichen/pkg/repositories"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

// Outcome reports what Process did with a record
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
)

// RecordLoader loads an import record and its graph. A missing record is reported with an
// error satisfying repositories.IsNotFound.
type RecordLoader interface {
	GetByGlobalObjectID(ctx context.Context, globalObjectID string) (*models.ImportRecord, error)
}

// GraphSaver stages an import record and its graph on the transaction carried by ctx.
type GraphSaver interface {
	Save(ctx context.Context, record *models.ImportRecord) error
}

type Engine struct {
	records RecordLoader
	graph   GraphSaver
	logger  ectologger.Logger
}

func NewEngine(records RecordLoader, graph GraphSaver, logger ectologger.Logger) *Engine {
	return &Engine{
		records: records,
		graph:   graph,
		logger:  logger,
	}
}

// Process maps raw into its import record and stages it without committing. An existing record
// is only re-mapped when the remote timestamp is strictly newer than the stored one, or when
// force is set.
func (e *Engine) Process(ctx context.Context, raw rawrecord.Record, m mapping.Mapping, actor *string, force bool) (*models.ImportRecord, Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.Process")
	defer span.End()

	globalObjectID, ok := raw.GlobalObjectID()
	if !ok {
		return nil, "", fmt.Errorf("%w: record has no %s", ErrInvalidInput, rawrecord.FieldGlobalObjectID)
	}
	span.SetAttributes(attribute.String("global_object_id", globalObjectID), attribute.Bool("force", force))

	remoteModified, hasRemoteModified := raw.LastModified()

	record, err := e.records.GetByGlobalObjectID(ctx, globalObjectID)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, "", err
	}

	outcome := OutcomeUpdated
	if record == nil || err != nil {
		record = models.NewImportRecord(globalObjectID)
		outcome = OutcomeCreated
	} else if !force && !isNewer(remoteModified, hasRemoteModified, record.RemoteLastUpdatedAt) {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"global_object_id": globalObjectID,
			"remote_modified":  remoteModified,
		}).Debug("remote record unchanged, skipping")
		return record, OutcomeSkipped, nil
	}

	if objectType, ok := raw.ObjectType(); ok {
		record.ObjectType = objectType
	}
	if hasRemoteModified {
		record.RemoteLastUpdatedAt = &remoteModified
	}
	if actor != nil {
		record.ManualImportTrigger = actor
	}

	if err := m.MapOccurrence(ctx, raw, record); err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", errMapping, m.Name(), err)
	}
	if record.Occurrence == nil {
		return nil, "", fmt.Errorf("%w: %s produced no occurrence", errMapping, m.Name())
	}

	if err := e.graph.Save(ctx, record); err != nil {
		return nil, "", err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"global_object_id": globalObjectID,
		"outcome":          outcome,
		"forced":           force,
	}).Debug("import record staged")

	return record, outcome, nil
}

// isNewer is the strict timestamp guard. A record with no remote timestamp is never newer
// than what is stored; a stored record without one is always older.
func isNewer(remote time.Time, hasRemote bool, stored *time.Time) bool {
	if !hasRemote {
		return false
	}
	if stored == nil {
		return true
	}
	return remote.After(*stored)
}
