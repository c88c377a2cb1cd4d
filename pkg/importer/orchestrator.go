package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/database"
	"github.com/Ramsey-B/lichen/pkg/events"
	"github.com/Ramsey-B/lichen/pkg/mapping"
	"github.com/Ramsey-B/lichen/pkg/metrics"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

// Fetcher reads single records from the remote system.
type Fetcher interface {
	ByGlobalObjectID(ctx context.Context, globalObjectID string) (rawrecord.Record, error)
	ByCompositeKey(ctx context.Context, objectType, uuid string, systemObjectID int64) (rawrecord.Record, error)
}

// Publisher announces committed imports. A nil Publisher disables events.
type Publisher interface {
	Publish(ctx context.Context, evt *events.ImportEvent) error
}

// Options control a single import
type Options struct {
	Actor *string
	// CommitNow opens (or borrows) a transaction and commits it before returning
	CommitNow bool
	// Force bypasses the remote timestamp guard
	Force bool
}

// Result is a successfully processed record.
type Result struct {
	Record  *models.ImportRecord
	Outcome Outcome
}

type Orchestrator struct {
	db        database.DB
	fetcher   Fetcher
	registry  *mapping.Registry
	engine    *Engine
	publisher Publisher
	logger    ectologger.Logger
}

func NewOrchestrator(db database.DB, fetcher Fetcher, registry *mapping.Registry, engine *Engine, publisher Publisher, logger ectologger.Logger) *Orchestrator {
	return &Orchestrator{
		db:        db,
		fetcher:   fetcher,
		registry:  registry,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
	}
}

// ImportByGlobalObjectID fetches one record by its global object id and imports it.
func (o *Orchestrator) ImportByGlobalObjectID(ctx context.Context, globalObjectID string, opts Options) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.ImportByGlobalObjectID", attribute.String("global_object_id", globalObjectID))
	defer span.End()

	if globalObjectID == "" {
		return nil, o.fail(ctx, "", fmt.Errorf("%w: empty global object id", ErrInvalidInput))
	}

	raw, err := o.fetcher.ByGlobalObjectID(ctx, globalObjectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, o.fail(ctx, globalObjectID, err)
	}

	objectType, _ := raw.ObjectType()
	return o.importRaw(ctx, globalObjectID, objectType, raw, opts)
}

// ImportByCompositeKey fetches one record by (object type, uuid, system object id). The caller's
// object type selects the mapping.
func (o *Orchestrator) ImportByCompositeKey(ctx context.Context, objectType, uuid string, systemObjectID int64, opts Options) (*Result, error) {
	identity := compositeIdentity(objectType, uuid, systemObjectID)
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.ImportByCompositeKey", attribute.String("identity", identity))
	defer span.End()

	if objectType == "" || uuid == "" || systemObjectID <= 0 {
		return nil, o.fail(ctx, identity, fmt.Errorf("%w: incomplete composite key", ErrInvalidInput))
	}

	raw, err := o.fetcher.ByCompositeKey(ctx, objectType, uuid, systemObjectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, o.fail(ctx, identity, err)
	}

	if globalObjectID, ok := raw.GlobalObjectID(); ok {
		identity = globalObjectID
	}
	return o.importRaw(ctx, identity, objectType, raw, opts)
}

// ImportRecord imports a record the caller already fetched, such as one row of a search page.
func (o *Orchestrator) ImportRecord(ctx context.Context, raw rawrecord.Record, opts Options) (*Result, error) {
	identity, _ := raw.GlobalObjectID()
	objectType, _ := raw.ObjectType()
	return o.importRaw(ctx, identity, objectType, raw, opts)
}

func (o *Orchestrator) importRaw(ctx context.Context, identity, objectType string, raw rawrecord.Record, opts Options) (*Result, error) {
	ctx = lichenctx.SetGlobalObjectID(ctx, identity)

	m, err := o.registry.Resolve(objectType)
	if err != nil {
		return nil, o.fail(ctx, identity, err)
	}

	var tx database.Tx
	if opts.CommitNow {
		ctx, tx, err = o.db.GetTx(ctx, nil)
		if err != nil {
			return nil, o.fail(ctx, identity, err)
		}
		defer tx.Rollback(ctx)
	}

	record, outcome, err := o.engine.Process(ctx, raw, m, opts.Actor, opts.Force)
	if err != nil {
		return nil, o.fail(ctx, identity, err)
	}

	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, o.fail(ctx, identity, err)
		}
	}

	metrics.RecordsProcessed.WithLabelValues(objectType, string(outcome)).Inc()
	result := &Result{Record: record, Outcome: outcome}

	if opts.CommitNow {
		o.Announce(ctx, result)
	}
	return result, nil
}

// Announce publishes an occurrence.imported event for a committed result. Skipped results and
// publish failures are not reported to the caller.
func (o *Orchestrator) Announce(ctx context.Context, result *Result) {
	if o.publisher == nil || result == nil || result.Record == nil || result.Outcome == OutcomeSkipped {
		return
	}

	evt := &events.ImportEvent{
		Type:           events.TypeOccurrenceImported,
		GlobalObjectID: result.Record.GlobalObjectID,
		ObjectType:     result.Record.ObjectType,
		Outcome:        string(result.Outcome),
		Actor:          lichenctx.GetActor(ctx),
		JobID:          lichenctx.GetJobID(ctx),
	}
	if result.Record.Occurrence != nil {
		evt.OccurrenceID = result.Record.Occurrence.OccurrenceID
	}

	if err := o.publisher.Publish(ctx, evt); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warnf("failed to announce import of %s", evt.GlobalObjectID)
	}
}

func (o *Orchestrator) fail(ctx context.Context, identity string, err error) error {
	wrapped := wrap(identity, err)
	var importErr *ImportFailedError
	if !errors.As(wrapped, &importErr) {
		return wrapped
	}

	metrics.ImportFailures.WithLabelValues(string(importErr.Kind)).Inc()
	o.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"identity":  identity,
		"kind":      importErr.Kind,
		"retryable": importErr.Retryable(),
	}).Warn("import failed")

	return wrapped
}

func compositeIdentity(objectType, uuid string, systemObjectID int64) string {
	return objectType + ":" + uuid + ":" + strconv.FormatInt(systemObjectID, 10)
}
