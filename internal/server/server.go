// Package server exposes the research engine over HTTP: auth, research
// runs (blocking and SSE), fact queries, and the standing-query
// scheduler.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deepresearch/config"
	"deepresearch/internal/engine"
	"deepresearch/internal/store"
	"deepresearch/internal/telemetry"
	"deepresearch/provider"
	"deepresearch/tools/registry"
	"deepresearch/tools/webfetch"
	"deepresearch/tools/websearch"
)

// Server bundles the HTTP surface with its wired collaborators.
type Server struct {
	Echo      *echo.Echo
	Master    *engine.MasterPipeline
	Research  *engine.ResearcherEngine
	Facts     store.FactStore
	Telemetry *telemetry.Telemetry
	Scheduler *Scheduler

	cfg    *config.Config
	logger *log.Logger
}

// Run wires everything from config and serves until the listener fails.
func Run(cfgPath string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	srv, err := New(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer srv.Close()
	if srv.Scheduler != nil {
		srv.Scheduler.Start()
	}
	return srv.Echo.Start(cfg.Server.Address)
}

// New builds the server and all engine collaborators from config.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	tel := telemetry.NewTelemetry(telemetry.Config{
		Enabled:       cfg.Telemetry.Enabled,
		CostTracking:  cfg.Telemetry.CostTracking,
		CostPer1KIn:   cfg.Telemetry.CostPer1KInput,
		CostPer1KOut:  cfg.Telemetry.CostPer1KOutput,
		PeriodicLogs:  cfg.Telemetry.PeriodicLogs,
		LogIntervalMS: cfg.Telemetry.LogIntervalMS,
	})

	completer, err := provider.NewCompleter(provider.Client(cfg.LLM.Provider), cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout, tel)
	if err != nil {
		return nil, err
	}

	searcher, err := websearch.NewWebSearcher(websearch.Provider(cfg.Search.Provider), cfg.Search.APIKey)
	if err != nil {
		return nil, err
	}
	fetcher, err := webfetch.NewWebFetcher(webfetch.FetcherType(cfg.Fetch.Type), cfg.Fetch.Timeout, cfg.Fetch.MaxChars)
	if err != nil {
		return nil, err
	}
	scraper := &websearch.Scraper{Searcher: searcher, Fetcher: fetcher, Logger: logger}

	facts, err := newFactStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tools, err := registry.NewDefaultRegistry(completer, scraper, logger)
	if err != nil {
		return nil, err
	}

	supervisor := engine.NewSupervisorEngine(completer, tools, tel, nil)
	supervisor.MaxIterations = cfg.Engine.SupervisorIterations
	researcher := engine.NewResearcherEngine(completer, scraper, facts, tel, nil)
	researcher.MaxIterations = cfg.Engine.ResearcherIterations
	clarifier := engine.NewIterativeClarifier(engine.NewLLMClarifier(completer), completer, cfg.Engine.ClarifierRounds)
	master := engine.NewMasterPipeline(completer, clarifier, supervisor, tel, nil)

	srv := &Server{
		Master:    master,
		Research:  researcher,
		Facts:     facts,
		Telemetry: tel,
		cfg:       cfg,
		logger:    logger,
	}
	srv.Echo = srv.buildEcho()

	if pg, ok := facts.(*store.PostgresStore); ok {
		auth := &AuthHandler{Store: pg, Secret: []byte(cfg.Server.JWTSecret)}
		srv.registerRoutes(auth)
		if cfg.Scheduler.Enabled {
			srv.Scheduler = &Scheduler{
				Store:        pg,
				Master:       master,
				Logger:       log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
				PollInterval: cfg.Scheduler.PollInterval,
				Stop:         make(chan struct{}),
			}
		}
	} else {
		srv.registerRoutes(nil)
	}
	return srv, nil
}

func newFactStore(ctx context.Context, cfg *config.Config) (store.FactStore, error) {
	switch store.Backend(cfg.Storage.Backend) {
	case store.MemoryBackend:
		return store.NewMemoryStore()
	case store.RedisBackend:
		client, err := store.RedisConn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStore(client), nil
	case store.PostgresBackend:
		if err := store.Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			return nil, fmt.Errorf("migrating: %w", err)
		}
		return store.NewPostgresWithDSN(ctx, cfg.Storage.Postgres.DSN())
	default:
		return nil, store.ErrUnsupportedBackend
	}
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
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
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
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
	return e
}

// registerRoutes mounts the API. With a nil auth handler (non-postgres
// backends) the research routes are left open.
func (s *Server) registerRoutes(auth *AuthHandler) {
	api := s.Echo.Group("/api")

	research := &ResearchHandler{
		Master:   s.Master,
		Research: s.Research,
		Facts:    s.Facts,
		Logger:   s.logger,
		Timeout:  s.cfg.General.DefaultTimeout,
	}

	if auth != nil {
		auth.Register(api.Group("/auth"))
		protected := api.Group("")
		protected.Use(EchoAuthMiddleware(auth.Secret))
		research.Register(protected)
		queries := &QueriesHandler{Store: auth.Store, Logger: s.logger}
		queries.Register(protected.Group("/queries"))
		return
	}
	research.Register(api)
}

// Close releases background resources.
func (s *Server) Close() {
	if s.Scheduler != nil {
		close(s.Scheduler.Stop)
	}
	if s.Telemetry != nil {
		s.Telemetry.Shutdown()
	}
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Shutdown stops the HTTP listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.Echo.Shutdown(ctx)
}
