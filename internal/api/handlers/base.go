// Package handlers implements the REST API endpoint handlers for the
// resolvfuzz status dashboard.
//
// @title resolvfuzz Status API
// @version 1.0
// @description Read-only REST API for observing a running differential DNS
// resolver fuzzer: run health, per-resolver stats, discovered diffs, and
// corpus sizes.
//
// @contact.name resolvfuzz
// @contact.url https://github.com/jroosing/resolvfuzz
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"time"

	"github.com/jroosing/resolvfuzz/internal/fleet"
	"github.com/jroosing/resolvfuzz/internal/scheduler"
	"github.com/jroosing/resolvfuzz/internal/store"
)

// Handler contains dependencies for API handlers. Every dependency is
// read-only from the handlers' point of view: the scheduler and store are
// owned and mutated by the fuzzer round loop, never by the API.
type Handler struct {
	logger    *slog.Logger
	startTime time.Time

	db        *store.DB
	scheduler *scheduler.Scheduler
	puller    *fleet.Puller // nil when the fleet puller is disabled
}

// New creates a new Handler. puller may be nil.
func New(logger *slog.Logger, db *store.DB, sched *scheduler.Scheduler, puller *fleet.Puller) *Handler {
	return &Handler{
		logger:    logger,
		startTime: time.Now(),
		db:        db,
		scheduler: sched,
		puller:    puller,
	}
}
