package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func down(context.Context) error { return errors.New("connection refused") }

func serve(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_AllHealthy(t *testing.T) {
	c := NewChecker("1.2.3").
		Require("database", PingFunc(ok)).
		Require("redis", PingFunc(ok))

	code, body := serve(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Len(t, body.Checks, 2)
}

func TestHealth_RequiredDependencyDown(t *testing.T) {
	c := NewChecker("dev").
		Require("database", PingFunc(down)).
		Optional("kafka", PingFunc(ok))

	code, body := serve(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, body.Status)
	assert.Equal(t, "connection refused", body.Checks["database"].Message)
}

func TestHealth_OptionalDependencyDegrades(t *testing.T) {
	c := NewChecker("dev").
		Require("database", PingFunc(ok)).
		Optional("easydb", PingFunc(down))

	code, body := serve(t, c, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, body.Status)
}

func TestHealth_Readiness(t *testing.T) {
	c := NewChecker("dev").Require("database", PingFunc(ok))

	code, _ := serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	c.SetReady(true)
	code, body := serve(t, c, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, body.Status)
}

func TestHealth_Liveness(t *testing.T) {
	code, body := serve(t, NewChecker("dev"), "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, body.Status)
}
