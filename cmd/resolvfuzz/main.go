// Command resolvfuzz is a differential fuzzer for recursive DNS resolvers.
// Invoked with no subcommand it runs the fuzzer round loop against every
// resolver named in its config; `single`, `spawn`, and `show-stats`
// subcommands reproduce, inspect, and report on past runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitCodeError lets any subcommand's RunE signal a specific process exit
// code (0 normal, 2 config error, 3 unrecoverable I/O, 4 all resolvers
// failed to start) without every layer threading an explicit os.Exit call.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func exitErrorf(code int, format string, args ...any) error {
	return &exitCodeError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "resolvfuzz: %v\n", err)
		var ec *exitCodeError
		if asExitCodeError(err, &ec) {
			os.Exit(ec.code)
		}
		os.Exit(1)
	}
}

// asExitCodeError walks err's Unwrap chain looking for an *exitCodeError,
// mirroring errors.As without importing errors solely for this one check.
func asExitCodeError(err error, target **exitCodeError) bool {
	for err != nil {
		if ec, ok := err.(*exitCodeError); ok {
			*target = ec
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newRootCommand() *cobra.Command {
	var configPath string
	var opts fuzzerOptions

	root := &cobra.Command{
		Use:   "resolvfuzz",
		Short: "Differential fuzzer for recursive DNS resolvers",
		Long: `resolvfuzz drives two or more recursive resolver subprocesses through the
same scripted authoritative-stack scenario and flags divergences between
their observed behavior.

Run with no subcommand to start the round loop against every resolver named
in the config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzzer(cmd, configPath, opts)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the TOML config file (or $RESOLVFUZZ_CONFIG)")
	root.Flags().BoolVar(&opts.resetState, "reset-state", false, "Wipe the persisted corpus/diff/coverage state before starting")
	root.Flags().StringVar(&opts.dumpDiffs, "dump-diffs", "", "Directory to archive diff/corpus dumps under (overrides store.dump_dir)")
	root.Flags().StringSliceVar(&opts.resolvers, "resolvers", nil, "Subset of configured resolver ids to fuzz (default: all)")

	root.AddCommand(newSingleCommand(&configPath))
	root.AddCommand(newSpawnCommand(&configPath))
	root.AddCommand(newShowStatsCommand())

	return root
}
