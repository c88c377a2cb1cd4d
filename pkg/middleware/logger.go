package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
)

// quietRoutes are polled by probes and scrapers and only logged at debug level
var quietRoutes = []string{"/api/v1/health", "/metrics"}

// Logger writes one entry per request, at warn for client errors and error for server errors.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			ctx := req.Context()

			fields := lichenctx.LogFields(ctx)
			fields["method"] = req.Method
			fields["route"] = routeOf(c)
			fields["uri"] = req.RequestURI
			fields["status"] = res.Status
			fields["remote_ip"] = c.RealIP()
			fields["user_agent"] = req.UserAgent()
			fields["duration_ms"] = time.Since(start).Milliseconds()
			fields["response_size"] = res.Size

			entry := logger.WithContext(ctx).WithFields(fields)
			switch {
			case res.Status >= http.StatusInternalServerError:
				entry.Error("request failed")
			case res.Status >= http.StatusBadRequest:
				entry.Warn("request rejected")
			case isQuiet(routeOf(c)):
				entry.Debug("request served")
			default:
				entry.Info("request served")
			}
			return nil
		}
	}
}

func isQuiet(route string) bool {
	for _, prefix := range quietRoutes {
		if strings.HasPrefix(route, prefix) {
			return true
		}
	}
	return false
}
