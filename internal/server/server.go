// Package server exposes the pipeline over HTTP: catalog management,
// retrieval, single-shot actions and the streamed deep session.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kramenhq/kramen/config"
	"github.com/kramenhq/kramen/internal/executor"
	"github.com/kramenhq/kramen/internal/extractor"
	"github.com/kramenhq/kramen/internal/manuals"
	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/orchestrator"
	"github.com/kramenhq/kramen/internal/planner"
	"github.com/kramenhq/kramen/internal/registry"
	"github.com/kramenhq/kramen/internal/resolver"
	"github.com/kramenhq/kramen/internal/retrieval"
	"github.com/kramenhq/kramen/internal/telemetry"
)

// NewRouter assembles the echo instance with all routes registered.
func NewRouter(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	h.Register(e)
	return e
}

// Run wires the whole pipeline from configuration and serves it.
func Run(cfg *config.Config) error {
	ctx := context.Background()

	var tele *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tele = telemetry.New(prometheus.DefaultRegisterer)
	}

	client := oracle.NewOpenAIClient(cfg.LLM, cfg.Retrieval.DenseModel)
	if err := oracle.EnsureCredential(client, oracle.ModelConfig{Model: cfg.LLM.Default}); err != nil {
		return err
	}

	var reg registry.Registry
	if cfg.Registry.PostgresURL != "" {
		if err := Migrate("file://migrations", cfg.Registry.PostgresURL, "up", 0); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		store, err := registry.Open(ctx, cfg.Registry.PostgresURL)
		if err != nil {
			return err
		}
		reg = store
	} else {
		log.Printf("[SERVER] no postgres configured, using in-memory registry")
		reg = registry.NewMemory()
	}

	docs := retrieval.NewStore(client, cfg.Retrieval.PrefetchLimit, cfg.Retrieval.FinalLimit)
	ext := extractor.New(client, tele)
	orch := orchestrator.New(
		reg,
		resolver.New(docs, client, tele),
		executor.New(ext, client, tele, nil),
		planner.New(client, tele),
		planner.NewSelector(client, tele),
		manuals.NewLoader(cfg.Server.ManualDir),
		client,
		tele,
	)

	h := &Handler{
		Orchestrator: orch,
		Store:        docs,
		Registry:     reg,
		DefaultModel: cfg.LLM.Default,
	}
	e := NewRouter(h)
	return e.Start(cfg.Server.Address)
}
