package middleware

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
)

// HeaderActor names the user or service triggering a request when authentication is disabled
const HeaderActor = "X-Actor"

const maxActorLength = 128

// route parameters that identify the job or record a request works on
const (
	paramJobID          = "id"
	paramGlobalObjectID = "globalObjectId"
)

// Context carries the request id, the matched route, the actor and the job or record named in
// the path on the request context, so logs and spans written below the handlers can name them.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := lichenctx.SetRequestID(req.Context(), requestID)
			ctx = lichenctx.SetRoute(ctx, routeOf(c))
			if actor := actorHeader(c); actor != "" {
				ctx = lichenctx.SetActor(ctx, actor)
			}
			if id := c.Param(paramJobID); id != "" {
				ctx = lichenctx.SetJobID(ctx, id)
			}
			if id := c.Param(paramGlobalObjectID); id != "" {
				ctx = lichenctx.SetGlobalObjectID(ctx, id)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// routeOf prefers the route template, e.g. /api/v1/jobs/:id, over the concrete path.
func routeOf(c echo.Context) string {
	if path := c.Path(); path != "" {
		return path
	}
	return c.Request().URL.Path
}

func actorHeader(c echo.Context) string {
	actor := strings.TrimSpace(c.Request().Header.Get(HeaderActor))
	if len(actor) > maxActorLength {
		actor = actor[:maxActorLength]
	}
	return actor
}
