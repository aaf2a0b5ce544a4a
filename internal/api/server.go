// Package api provides the read-only status REST API for a running
// resolvfuzz coordinator. It exposes endpoints for health checks, fuzzing
// statistics, corpus sizes, and discovered diffs via a Gin-based HTTP
// server (gin.New + Recovery + slog request logger, explicit http.Server
// timeouts).
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/resolvfuzz/internal/api/handlers"
	"github.com/jroosing/resolvfuzz/internal/api/middleware"
	"github.com/jroosing/resolvfuzz/internal/config"
	"github.com/jroosing/resolvfuzz/internal/fleet"
	"github.com/jroosing/resolvfuzz/internal/scheduler"
	"github.com/jroosing/resolvfuzz/internal/store"
)

// Server is the status REST API server. It never mutates fuzzer state;
// every handler reads from the store, scheduler, and fleet puller it is
// constructed with.
//
// Security note: do not expose the API to untrusted networks without
// setting api.api_key.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server. puller may be nil when the fleet puller is disabled.
func New(cfg *config.Config, logger *slog.Logger, db *store.DB, sched *scheduler.Scheduler, puller *fleet.Puller) *Server {
	if cfg == nil {
		panic("api.New: cfg is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(logger, db, sched, puller)
	RegisterRoutes(engine, h, cfg)
	MountSPA(engine, logger)

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: logger, engine: engine, httpServer: httpServer}
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
