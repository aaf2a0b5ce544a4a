package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jroosing/resolvfuzz/internal/authstack"
	"github.com/jroosing/resolvfuzz/internal/config"
	"github.com/jroosing/resolvfuzz/internal/differ"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
	"github.com/jroosing/resolvfuzz/internal/harness"
	"github.com/jroosing/resolvfuzz/internal/logging"
	"github.com/jroosing/resolvfuzz/internal/store"
)

// newSingleCommand replays one persisted suite against a fixed set of
// named resolvers and prints every observed divergence, rather than
// driving the open-ended round loop runFuzzer does. Grounded on
// cmd/dnsquery/main.go's shape (one sandbox, one pass, print and exit)
// generalized from a single query to a scripted multi-case suite.
func newSingleCommand(configPath *string) *cobra.Command {
	var keep bool

	cmd := &cobra.Command{
		Use:   "single SUITE FUZZEES...",
		Short: "Replay a persisted suite against named resolvers",
		Long: `single loads a suite file (for example a case.postcard dumped from a
fuzzing run) and replays every case in it against the named resolvers,
printing any divergence found. At least one resolver must be named; with
two or more, their responses are diffed pairwise.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(*configPath, args[0], args[1:], keep)
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "Preserve the run's dump directory instead of removing it on exit")

	return cmd
}

func runSingle(configPath, suitePath string, fuzzeeIDs []string, keep bool) error {
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

	workDir, cleanup, err := workDirFor(keep, "single")
	if err != nil {
		return exitErrorf(3, "create work directory: %w", err)
	}
	defer cleanup()
	dumper, err := store.NewDumper(workDir)
	if err != nil {
		return exitErrorf(3, "create dumper: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tree := authstack.NewBaseTreeForSuite(suite.Seed)
	stack := authstack.New(tree, logger)
	if err := stack.Start(ctx); err != nil {
		return exitErrorf(3, "start authoritative stack: %w", err)
	}
	defer stack.Stop()

	harnesses := make(map[string]*harness.Harness, len(fuzzeeIDs))
	for _, id := range fuzzeeIDs {
		rc, ok := findResolverConfig(cfg, id)
		if !ok {
			return exitErrorf(2, "no [[resolvers]] entry named %q", id)
		}
		h := harness.New(rc.ID, rc.BinaryPath, rc.Args, rc.ControlAddr, stack, logger)
		if err := h.Start(ctx); err != nil {
			logger.Warn("resolver failed to start", "resolver", id, "error", err)
			continue
		}
		defer h.Stop()
		harnesses[id] = h
	}
	if len(harnesses) == 0 {
		return exitErrorf(4, "all resolvers failed to start")
	}

	divergences := 0
	for i, c := range suite.Cases {
		idx := fuzzcase.ZoneIndex(i)

		// RunCase registers and releases the case's NNNN.fuzz. overlay
		// itself; the resolvers run it sequentially here since they share
		// one stack instance and the overlay is keyed by idx.
		results := make(map[string]harness.FuzzResult, len(harnesses))
		for id, h := range harnesses {
			r := h.RunCase(ctx, idx, c)
			results[id] = r
			if !r.Clean() {
				logger.Warn("case failure", "resolver", id, "case", c.ID, "kind", r.Failure.String())
			}
		}

		ids := make([]string, 0, len(results))
		for id := range results {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for ai := 0; ai < len(ids); ai++ {
			for bi := ai + 1; bi < len(ids); bi++ {
				a, b := ids[ai], ids[bi]
				diffs := differ.Diff(results[a], results[b])
				if len(diffs) == 0 {
					continue
				}
				divergences++
				fp := differ.Fingerprint(diffs)
				fmt.Printf("case %s: %s vs %s diverge (fingerprint %s)\n", c.ID, a, b, fp)
				for _, d := range diffs {
					fmt.Printf("  %s: %s: %v != %v\n", d.Path, d.Category, d.ValueA, d.ValueB)
				}
				if err := dumper.DumpDiff(fp, c, a, b, diffs); err != nil {
					logger.Warn("dump diff failed", "error", err)
				}
			}
		}
	}

	fmt.Printf("%d cases replayed, %d divergences found\n", len(suite.Cases), divergences)
	if keep {
		fmt.Printf("workdir preserved at %s\n", workDir)
	}
	return nil
}

func findResolverConfig(cfg *config.Config, id string) (config.ResolverConfig, bool) {
	for _, rc := range cfg.Resolvers {
		if rc.ID == id {
			return rc, true
		}
	}
	return config.ResolverConfig{}, false
}

// workDirFor creates a run-scoped work directory. With keep=false it is
// removed by the returned cleanup func; with keep=true it is left on disk
// and its path is reported to the operator.
func workDirFor(keep bool, label string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "resolvfuzz-"+label+"-*")
	if err != nil {
		return "", nil, err
	}
	if keep {
		return dir, func() {}, nil
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
