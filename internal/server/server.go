package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/engine"
	"github.com/mohammad-safakhou/scout/internal/index"
	"github.com/mohammad-safakhou/scout/internal/llm"
	"github.com/mohammad-safakhou/scout/internal/search"
	"github.com/mohammad-safakhou/scout/internal/telemetry"
)

// Run wires every component together and serves the HTTP API until the
// process stops.
func Run(cfg *config.Config) error {
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
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	secret := []byte(cfg.Server.JWTSecret)

	ctx := context.Background()
	db, err := sql.Open("postgres", cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}

	tele := telemetry.New(nil)
	provider, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return err
	}

	searchLogger := log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	coordinator, err := search.NewCoordinator(cfg.Search, cfg.Engine.MaxParallel, tele, searchLogger)
	if err != nil {
		return err
	}

	indexLogger := log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	memory, err := index.NewMemoryBackend()
	if err != nil {
		return err
	}
	durable := index.NewPostgresBackendWithDB(db, cfg.Index.EmbeddingDimensions)
	active := cfg.Index.Active
	if active == "" {
		active = "memory"
	}
	hybrid, err := index.NewHybrid(memory, durable, active, cfg.Index.DualWrite, tele, indexLogger)
	if err != nil {
		return err
	}
	if _, err := hybrid.RebuildFromDurable(ctx); err != nil {
		indexLogger.Printf("initial rebuild failed: %v", err)
	}
	maintainer := index.NewMaintainer(hybrid, cfg.Index.MaintenanceCron, 0, indexLogger)
	maintainer.Start(ctx)
	defer maintainer.Stop()

	var checkpoints engine.CheckpointStore
	if cfg.Storage.Redis.Host != "" {
		checkpoints, err = engine.NewRedisCheckpointStore(ctx, cfg.Storage.Redis)
		if err != nil {
			return err
		}
	}

	engineLogger := log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	eng := engine.NewEngine(*cfg, provider, coordinator, hybrid, checkpoints, tele, engineLogger)
	bus := newEventBus(eng.Events())

	api := e.Group("/api")
	auth := &AuthHandler{DB: db, Secret: secret}
	auth.Register(api.Group("/auth"))

	sessions := &SessionsHandler{Engine: eng, Bus: bus}
	sessions.Register(api.Group("/sessions"), secret)

	stages := api.Group("/stages")
	stages.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	stages.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, engine.Stages())
	})

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10010"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
