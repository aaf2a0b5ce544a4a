package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jroosing/resolvfuzz/internal/api"
	"github.com/jroosing/resolvfuzz/internal/authstack"
	"github.com/jroosing/resolvfuzz/internal/config"
	"github.com/jroosing/resolvfuzz/internal/differ"
	"github.com/jroosing/resolvfuzz/internal/fleet"
	"github.com/jroosing/resolvfuzz/internal/harness"
	"github.com/jroosing/resolvfuzz/internal/logging"
	"github.com/jroosing/resolvfuzz/internal/scheduler"
	"github.com/jroosing/resolvfuzz/internal/store"
)

// statsDumpInterval is how often the round loop writes a stats/<ts>.json
// snapshot to the dump directory and upserts per-resolver stats into the
// SQLite index; new diffs and corpus entries are indexed every round.
const statsDumpInterval = 30 * time.Second

// fuzzerOptions carries the root-command flags into runFuzzer.
type fuzzerOptions struct {
	resetState bool
	dumpDiffs  string
	resolvers  []string
}

// runFuzzer implements the default (no subcommand) round loop: build the
// authoritative stack and one harness per configured resolver, then drive
// scheduler.Round in a loop until SIGINT/SIGTERM.
func runFuzzer(cmd *cobra.Command, configPath string, opts fuzzerOptions) error {
	resolvedPath := config.ResolveConfigPath(configPath)
	cfg, err := config.Load(resolvedPath)
	if err != nil {
		return exitErrorf(2, "load config: %w", err)
	}
	if opts.dumpDiffs != "" {
		cfg.Store.DumpDir = opts.dumpDiffs
	}
	if len(opts.resolvers) > 0 {
		kept := cfg.Resolvers[:0]
		for _, rc := range cfg.Resolvers {
			for _, want := range opts.resolvers {
				if rc.ID == want {
					kept = append(kept, rc)
					break
				}
			}
		}
		if len(kept) == 0 {
			return exitErrorf(2, "config: --resolvers names no configured [[resolvers]] entry")
		}
		cfg.Resolvers = kept
	}
	if len(cfg.Resolvers) == 0 {
		return exitErrorf(2, "config: at least one [[resolvers]] entry is required")
	}

	if opts.resetState {
		if err := resetPersistedState(cfg); err != nil {
			return exitErrorf(3, "reset state: %w", err)
		}
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("resolvfuzz starting", "resolvers", len(cfg.Resolvers), "batch_size", cfg.Scheduler.BatchSize)

	db, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return exitErrorf(3, "open store: %w", err)
	}
	defer db.Close()

	dumper, err := store.NewDumper(cfg.Store.DumpDir)
	if err != nil {
		return exitErrorf(3, "create dump dir: %w", err)
	}

	runID, err := db.NewRun(cfg.Scheduler.Seed, "")
	if err != nil {
		return exitErrorf(3, "record run: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tree := authstack.NewBaseTreeForSuite(uint64(cfg.Scheduler.Seed))
	stack := authstack.New(tree, logger)
	if err := stack.Start(ctx); err != nil {
		return exitErrorf(3, "start authoritative stack: %w", err)
	}
	defer stack.Stop()

	harnesses, startErr := startHarnesses(ctx, cfg, stack, logger)
	if len(harnesses) == 0 {
		return exitErrorf(4, "all resolvers failed to start: %w", startErr)
	}
	defer stopHarnesses(harnesses)

	for id, h := range harnesses {
		frontier := h.Frontier()
		if frontier == nil {
			continue
		}
		baseline := frontier.Baseline()
		if err := dumper.DumpBaseline(id, baseline); err != nil {
			logger.Warn("dump baseline failed", "resolver", id, "error", err)
		}
		if err := db.RecordBaseline(id, len(baseline)); err != nil {
			logger.Warn("record baseline failed", "resolver", id, "error", err)
		}
	}

	sched := scheduler.New(scheduler.Config{
		BatchSize: cfg.Scheduler.BatchSize,
		PNew:      cfg.Scheduler.PNew,
		Logger:    logger,
	}, harnesses, cfg.Scheduler.Seed)

	var roundsRun atomic.Int64

	var puller *fleet.Puller
	if cfg.Fleet.Enabled {
		puller, err = fleet.New(fleet.Config{
			NodeID:       cfg.Fleet.NodeID,
			PeerURL:      cfg.Fleet.PeerURL,
			SharedSecret: cfg.Fleet.SharedSecret,
			PollInterval: parseDurationOr(cfg.Fleet.PollInterval, 30*time.Second),
		}, logger, func(snap *fleet.Snapshot) {
			logger.Info("fleet: peer snapshot received", "peer", snap.NodeID, "rounds", snap.RoundsRun)
		}, func() int64 { return roundsRun.Load() })
		if err != nil {
			return exitErrorf(2, "configure fleet puller: %w", err)
		}
		if err := puller.Start(ctx); err != nil {
			logger.Warn("fleet: puller failed to start", "error", err)
			puller = nil
		} else {
			defer puller.Stop()
		}
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg, logger, db, sched, puller)
		logger.Info("status API starting", "addr", apiSrv.Addr())
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil {
				logger.Warn("status API stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = apiSrv.Shutdown(shutdownCtx)
		}()
	}

	lastDump := time.Now()
	for ctx.Err() == nil {
		report, err := sched.Round(ctx)
		if err != nil {
			logger.Error("round failed", "error", err)
			continue
		}
		roundsRun.Add(1)

		for _, ca := range report.CorpusAdds {
			if err := dumper.DumpCorpusEntry(ca.Resolver, ca.Case); err != nil {
				logger.Warn("dump corpus entry failed", "resolver", ca.Resolver, "error", err)
			}
			if err := db.RecordCorpusEntry(ca.Resolver, ca.Case.ID.String(), ca.Score, ca.WireSize, len(ca.Case.CacheChecks) > 0); err != nil {
				logger.Warn("record corpus entry failed", "resolver", ca.Resolver, "error", err)
			}
		}

		for _, nd := range report.NewDiffs {
			logger.Info("new diff", "fingerprint", nd.Fingerprint, "resolver_a", nd.ResolverA, "resolver_b", nd.ResolverB)
			if err := dumper.DumpDiff(nd.Fingerprint, nd.Case, nd.ResolverA, nd.ResolverB, nd.Diffs); err != nil {
				logger.Warn("dump diff failed", "error", err)
			}
			categories := diffCategories(nd.Diffs)
			if err := db.RecordDiff(runID, nd.Fingerprint, nd.ResolverA, nd.ResolverB, nd.Case.ID.String(), categories); err != nil {
				logger.Warn("record diff failed", "error", err)
			}
		}

		if time.Since(lastDump) >= statsDumpInterval {
			persistStats(db, dumper, runID, sched, roundsRun.Load(), len(report.NewDiffs), logger)
			lastDump = time.Now()
		}
	}

	persistStats(db, dumper, runID, sched, roundsRun.Load(), 0, logger)
	logger.Info("resolvfuzz stopping", "rounds_run", roundsRun.Load())
	return nil
}

// resetPersistedState wipes the run database and the dump directory's
// diff/corpus/coverage/stats subtrees, the --reset-state contract: the next
// run starts with an empty corpus and no remembered fingerprints.
func resetPersistedState(cfg *config.Config) error {
	for _, path := range []string{cfg.Store.DBPath, cfg.Store.DBPath + "-wal", cfg.Store.DBPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	for _, sub := range []string{"diffs", "corpus", "coverage", "stats"} {
		if err := os.RemoveAll(filepath.Join(cfg.Store.DumpDir, sub)); err != nil {
			return err
		}
	}
	return nil
}

func startHarnesses(ctx context.Context, cfg *config.Config, stack *authstack.Stack, logger *slog.Logger) (map[string]*harness.Harness, error) {
	harnesses := make(map[string]*harness.Harness, len(cfg.Resolvers))
	var lastErr error
	for _, rc := range cfg.Resolvers {
		h := harness.New(rc.ID, rc.BinaryPath, rc.Args, rc.ControlAddr, stack, logger)
		if rc.WarmupSeconds > 0 {
			h.WarmupWindow = time.Duration(rc.WarmupSeconds * float64(time.Second))
		}
		if d := parseDurationOr(rc.ResponseDeadline, 0); d > 0 {
			h.ResponseDeadline = d
		}
		if err := h.Start(ctx); err != nil {
			logger.Warn("resolver failed to start", "resolver", rc.ID, "error", err)
			lastErr = err
			continue
		}
		harnesses[rc.ID] = h
	}
	return harnesses, lastErr
}

func stopHarnesses(harnesses map[string]*harness.Harness) {
	for _, h := range harnesses {
		h.Stop()
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func diffCategories(diffs []differ.DiffItem) string {
	seen := make(map[string]bool, len(diffs))
	out := ""
	for _, d := range diffs {
		cat := string(d.Category)
		if seen[cat] {
			continue
		}
		seen[cat] = true
		if out != "" {
			out += ","
		}
		out += cat
	}
	return out
}

func persistStats(db *store.DB, dumper *store.Dumper, runID int64, sched *scheduler.Scheduler, rounds int64, newDiffsThisRound int, logger *slog.Logger) {
	snap := store.StatsSnapshot{
		RoundsRun:     int(rounds),
		ResolverStats: map[string]store.ResolverRecord{},
	}
	totalDiffs, err := db.DiffCount(runID)
	if err != nil {
		logger.Warn("diff count failed", "error", err)
	}
	snap.TotalDiffs = totalDiffs

	for id, st := range sched.Stats() {
		if err := db.UpsertResolverStats(runID, id, st.CasesRun, st.CorpusAdds, st.Crashes, st.Disabled); err != nil {
			logger.Warn("upsert resolver stats failed", "resolver", id, "error", err)
		}
		snap.ResolverStats[id] = store.ResolverRecord{
			CasesRun:   st.CasesRun,
			CorpusAdds: st.CorpusAdds,
			Crashes:    st.Crashes,
			Disabled:   st.Disabled,
		}
	}

	if err := dumper.DumpStats(time.Now(), snap); err != nil {
		logger.Warn("dump stats failed", "error", err)
	}
}
