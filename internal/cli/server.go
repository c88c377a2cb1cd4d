package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/lichen/internal/handlers"
	"github.com/Ramsey-B/lichen/pkg/health"
	"github.com/Ramsey-B/lichen/pkg/jobs"
	"github.com/Ramsey-B/lichen/pkg/middleware"
	"github.com/Ramsey-B/lichen/pkg/startup"
)

// newServer builds the echo instance serving the job and import API.
func newServer(ctx context.Context, checker *health.Checker, queue *jobs.Queue) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.HttpServerReadTimeout
	e.Server.WriteTimeout = cfg.HttpServerWriteTimeout
	e.Server.IdleTimeout = cfg.HttpServerIdleTimeout
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return nil, err
		}
		api.Use(middleware.Authentication(logger, verifier))
	}

	driver, err := env.Driver(ctx)
	if err != nil {
		return nil, err
	}
	orch, err := env.Importer(ctx)
	if err != nil {
		return nil, err
	}
	jobRepo, err := env.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	dlq, err := env.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}

	handlers.Handlers{
		Jobs:    handlers.NewJobHandler(driver, jobRepo, queue, cfg.JobRetention, logger),
		Imports: handlers.NewImportHandler(orch, logger),
		DLQ:     handlers.NewDLQHandler(dlq, logger),
	}.Register(api)

	return e, nil
}

// listen serves e in the background until it is shut down.
func listen(e *echo.Echo) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
		}
	}()
	logger.Infof("Listening on %s", addr)
}

func databaseDependency() startup.Func {
	return startup.Func{
		Name: "database",
		StartFn: func(ctx context.Context) error {
			sqlDB, err := env.SQL(ctx)
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

func redisDependency() startup.Func {
	return startup.Func{
		Name: "redis",
		StartFn: func(ctx context.Context) error {
			_, err := env.Redis(ctx)
			return err
		},
	}
}

func queueDependency(queue **jobs.Queue) startup.Func {
	return startup.Func{
		Name:  "queue",
		Needs: []string{"database", "redis"},
		StartFn: func(ctx context.Context) error {
			q, err := env.Queue(ctx)
			if err != nil {
				return err
			}
			*queue = q
			return q.Start(ctx)
		},
		StopFn: func(ctx context.Context) error {
			if *queue == nil {
				return nil
			}
			return (*queue).Stop(ctx)
		},
	}
}

func newChecker() *health.Checker {
	return health.NewChecker(cfg.Version).
		Require("database", health.PingFunc(func(ctx context.Context) error {
			sqlDB, err := env.SQL(ctx)
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})).
		Require("redis", health.PingFunc(func(ctx context.Context) error {
			rdb, err := env.Redis(ctx)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}))
}
