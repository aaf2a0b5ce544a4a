package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jroosing/resolvfuzz/internal/authstack"
	"github.com/jroosing/resolvfuzz/internal/config"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
	"github.com/jroosing/resolvfuzz/internal/harness"
	"github.com/jroosing/resolvfuzz/internal/logging"
)

// newSpawnCommand prepares a sandbox for one resolver against one suite's
// scripted authoritative stack and leaves both running for interactive
// inspection (manual dig/tcpdump against the loopback addresses printed to
// stdout) instead of tearing down after a scripted pass the way "single"
// does. Exits on SIGINT/SIGTERM like the fuzzer's own round loop.
func newSpawnCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spawn SUITE FUZZEE",
		Short: "Start a live sandbox for one resolver and suite",
		Long: `spawn starts the authoritative stack scripted by SUITE and the FUZZEE
resolver under test, registers every case in the suite against the stack,
and then blocks so an operator can query the resolver directly (e.g. with
dig, pointed at the resolver's own listen address) until interrupted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpawn(*configPath, args[0], args[1])
		},
	}
	return cmd
}

func runSpawn(configPath, suitePath, fuzzeeID string) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return exitErrorf(2, "load config: %w", err)
	}

	logger := logging.Configure(logging.Config{
		Level:      cfg.Logging.Level,
		Structured: cfg.Logging.Structured,
	})

	raw, err := os.ReadFile(suitePath)
	if err != nil {
		return exitErrorf(3, "read suite: %w", err)
	}
	suite, err := fuzzcase.Decode(raw)
	if err != nil {
		return exitErrorf(3, "decode suite: %w", err)
	}

	rc, ok := findResolverConfig(cfg, fuzzeeID)
	if !ok {
		return exitErrorf(2, "no [[resolvers]] entry named %q", fuzzeeID)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tree := authstack.NewBaseTreeForSuite(suite.Seed)
	stack := authstack.New(tree, logger)
	if err := stack.Start(ctx); err != nil {
		return exitErrorf(3, "start authoritative stack: %w", err)
	}
	defer stack.Stop()

	h := harness.New(rc.ID, rc.BinaryPath, rc.Args, rc.ControlAddr, stack, logger)
	if err := h.Start(ctx); err != nil {
		return exitErrorf(4, "resolver %q failed to start: %w", fuzzeeID, err)
	}
	defer h.Stop()

	for i, c := range suite.Cases {
		if _, err := stack.RegisterCase(ctx, fuzzcase.ZoneIndex(i), c.Responses); err != nil {
			logger.Warn("register case failed", "case", c.ID, "error", err)
		}
	}

	fmt.Printf("sandbox live: resolver %q (control %s), %d case(s) registered\n", rc.ID, rc.ControlAddr, len(suite.Cases))
	fmt.Printf("authoritative stack listening on: %s\n", strings.Join(authstack.LoopbackAddrs, ", "))
	fmt.Println("point the resolver's client queries here, or query it directly; press ctrl-c to tear down")

	<-ctx.Done()
	logger.Info("spawn: tearing down sandbox")
	return nil
}
