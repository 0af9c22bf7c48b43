// Package server exposes the chat pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caseflowhq/casechat/internal/chatbot"
	"github.com/caseflowhq/casechat/internal/config"
	"github.com/caseflowhq/casechat/internal/provider"
	"github.com/caseflowhq/casechat/internal/session"
	"github.com/caseflowhq/casechat/internal/store"
	"github.com/caseflowhq/casechat/internal/telemetry"
)

// Server wires the pipeline, session store and HTTP routes together.
type Server struct {
	cfg       *config.Config
	echo      *echo.Echo
	orch      *chatbot.Orchestrator
	sessions  session.Store
	sweeper   *Sweeper
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// New builds a fully wired server from configuration.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	var tele *telemetry.Telemetry
	registry := prometheus.NewRegistry()
	if cfg.Telemetry.Enabled {
		registry.MustRegister(collectors.NewGoCollector())
		tele = telemetry.New(registry)
	}

	caseStore, err := newCaseStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	llm, err := provider.New(cfg.LLM, tele)
	if err != nil {
		return nil, err
	}

	pipeCfg := chatbot.Config{
		EnableCompound:       cfg.Chat.EnableCompound,
		AggregationSampleCap: cfg.Chat.AggregationSampleCap,
		PlanningMaxTokens:    cfg.Chat.PlanningMaxTokens,
		SynthesisMaxTokens:   cfg.Chat.SynthesisMaxTokens,
	}
	orch := chatbot.NewOrchestrator(pipeCfg, caseStore, llm, tele)

	sessions, sweeper := newSessionStore(cfg)

	s := &Server{
		cfg:       cfg,
		orch:      orch,
		sessions:  sessions,
		sweeper:   sweeper,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
	s.echo = s.buildEcho(caseStore, registry)
	return s, nil
}

func newCaseStore(ctx context.Context, cfg *config.Config) (chatbot.SearchStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return store.NewMemory()
	default:
		return store.Open(ctx, cfg.Storage.Postgres.DSN())
	}
}

func newSessionStore(cfg *config.Config) (session.Store, *Sweeper) {
	if cfg.Sessions.Backend == "redis" {
		r := session.NewRedis(
			cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB,
			cfg.Sessions.HistoryLimit, cfg.Sessions.TTL,
		)
		// Redis expires keys itself; no sweeper needed.
		return r, nil
	}
	mem := session.NewInMemory(cfg.Sessions.HistoryLimit, cfg.Sessions.TTL)
	return mem, NewSweeper(cfg.Sessions.SweepCron, mem)
}

func (s *Server) buildEcho(caseStore chatbot.SearchStore, registry *prometheus.Registry) *echo.Echo {
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
	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")

	secret := []byte(s.cfg.Server.JWTSecret)
	if pg, ok := caseStore.(*store.Store); ok && len(secret) > 0 {
		auth := &AuthHandler{Store: pg, Secret: secret}
		auth.Register(api.Group("/auth"))
	}
	if len(secret) > 0 {
		api.Use(authMiddleware(secret))
	}

	ch := &ChatHandler{Orch: s.orch, Store: caseStore, Sessions: s.sessions, Telemetry: s.telemetry}
	ch.Register(api)
	return e
}

// Run starts the sweeper and serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	if s.sweeper != nil {
		s.sweeper.Start()
		defer s.sweeper.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(s.cfg.Server.Address)
	}()
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		return s.echo.Shutdown(context.Background())
	}
}
