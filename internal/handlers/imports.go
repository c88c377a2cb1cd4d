package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
	"github.com/Ramsey-B/lichen/pkg/importer"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

// SingleImporter imports one remote record and commits it
type SingleImporter interface {
	ImportByGlobalObjectID(ctx context.Context, globalObjectID string, opts importer.Options) (*importer.Result, error)
	ImportByCompositeKey(ctx context.Context, objectType, uuid string, systemObjectID int64, opts importer.Options) (*importer.Result, error)
}

// ImportHandler handles synchronous single-record imports
type ImportHandler struct {
	importer SingleImporter
	logger   ectologger.Logger
}

func NewImportHandler(imp SingleImporter, logger ectologger.Logger) *ImportHandler {
	return &ImportHandler{importer: imp, logger: logger}
}

// CompositeImportRequest identifies a record by object type, uuid and system object id
type CompositeImportRequest struct {
	ObjectType     string `json:"object_type" validate:"required"`
	UUID           string `json:"uuid" validate:"required,uuid"`
	SystemObjectID int64  `json:"system_object_id" validate:"required,gt=0"`
	Force          bool   `json:"force"`
}

// ImportResponse summarizes one import
type ImportResponse struct {
	GlobalObjectID string           `json:"global_object_id"`
	ObjectType     string           `json:"object_type"`
	Outcome        importer.Outcome `json:"outcome"`
	OccurrenceID   string           `json:"occurrence_id,omitempty"`
}

// Register registers import routes
func (h *ImportHandler) Register(g *echo.Group) {
	g.POST("", h.ImportComposite)
	g.POST("/:globalObjectId", h.ImportByGlobalObjectID)
}

// ImportByGlobalObjectID imports one record
// POST /api/v1/imports/:globalObjectId?force=true
func (h *ImportHandler) ImportByGlobalObjectID(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.ImportByGlobalObjectID")
	defer span.End()

	globalObjectID := c.Param("globalObjectId")
	if globalObjectID == "" {
		return BadRequest("globalObjectId is required")
	}

	force := false
	if raw := c.QueryParam("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return BadRequest("force must be a boolean")
		}
		force = parsed
	}

	ctx = lichenctx.SetGlobalObjectID(ctx, globalObjectID)
	result, err := h.importer.ImportByGlobalObjectID(ctx, globalObjectID, importer.Options{
		Actor:     lichenctx.ActorRef(ctx),
		CommitNow: true,
		Force:     force,
	})
	if err != nil {
		return importError(err)
	}

	return SuccessResponse(c, newImportResponse(result))
}

// ImportComposite imports one record by its composite key
// POST /api/v1/imports
func (h *ImportHandler) ImportComposite(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.ImportComposite")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	req, err := BindAndValidate[CompositeImportRequest](c)
	if err != nil {
		return err
	}

	result, err := h.importer.ImportByCompositeKey(ctx, req.ObjectType, req.UUID, req.SystemObjectID, importer.Options{
		Actor:     lichenctx.ActorRef(ctx),
		CommitNow: true,
		Force:     req.Force,
	})
	if err != nil {
		return importError(err)
	}

	return SuccessResponse(c, newImportResponse(result))
}

func importError(err error) error {
	var failed *importer.ImportFailedError
	if errors.As(err, &failed) {
		return failed.ToHTTPError()
	}
	return err
}

func newImportResponse(result *importer.Result) ImportResponse {
	resp := ImportResponse{Outcome: result.Outcome}
	if result.Record == nil {
		return resp
	}
	resp.GlobalObjectID = result.Record.GlobalObjectID
	resp.ObjectType = result.Record.ObjectType
	if occ := result.Record.Occurrence; occ != nil {
		resp.OccurrenceID = occ.OccurrenceID
	}
	return resp
}
