package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lichenctx "github.com/Ramsey-B/lichen/pkg/context"
)

type stubVerifier struct {
	claims UserClaims
	err    error
}

func (v stubVerifier) Verify(context.Context, string) (UserClaims, error) {
	return v.claims, v.err
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newServer(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = Error(testLogger())
	e.Use(mw...)
	e.GET("/whoami", func(c echo.Context) error {
		ctx := c.Request().Context()
		return c.JSON(http.StatusOK, map[string]string{
			"actor":      lichenctx.GetActor(ctx),
			"request_id": lichenctx.GetRequestID(ctx),
		})
	})
	e.GET("/missing", func(c echo.Context) error {
		return httperror.NewHTTPError(http.StatusNotFound, "job not found")
	})
	return e
}

func TestContext_ActorHeader(t *testing.T) {
	e := newServer(Context())

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderActor, "curator")
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "curator", body["actor"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
}

func TestContext_GeneratesRequestID(t *testing.T) {
	e := newServer(Context())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestContext_RouteParameters(t *testing.T) {
	e := echo.New()
	e.Use(Context())
	e.GET("/api/v1/jobs/:id", func(c echo.Context) error {
		ctx := c.Request().Context()
		return c.JSON(http.StatusOK, map[string]string{
			"job_id": lichenctx.GetJobID(ctx),
			"route":  lichenctx.GetRoute(ctx),
			"actor":  lichenctx.GetActor(ctx),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/5f0c", nil)
	req.Header.Set(HeaderActor, "  curator  ")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "5f0c", body["job_id"])
	assert.Equal(t, "/api/v1/jobs/:id", body["route"])
	assert.Equal(t, "curator", body["actor"])
}

func TestLogger_PassesErrorsToHandler(t *testing.T) {
	e := newServer(Context(), Logger(testLogger()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, isQuiet("/api/v1/health/live"))
	assert.False(t, isQuiet("/api/v1/jobs"))
}

func TestAuthentication(t *testing.T) {
	t.Run("missing bearer", func(t *testing.T) {
		e := newServer(Authentication(testLogger(), stubVerifier{}))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		e := newServer(Authentication(testLogger(), stubVerifier{err: errors.New("expired")}))
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("subject becomes actor", func(t *testing.T) {
		e := newServer(Context(), Authentication(testLogger(), stubVerifier{claims: UserClaims{Sub: "f3a1"}}))
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer abc")
		req.Header.Set(HeaderActor, "spoofed")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "f3a1", body["actor"])
	})
}

func TestError_HTTPError(t *testing.T) {
	e := newServer(Context())

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-9")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Message, "job not found")
	assert.Equal(t, "req-9", body.RequestID)
}
