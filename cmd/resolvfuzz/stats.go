package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jroosing/resolvfuzz/internal/api/models"
	"github.com/jroosing/resolvfuzz/internal/store"
)

// newShowStatsCommand renders a stats snapshot, either a dumped
// stats/<ts>.json file (or a dump directory, in which case the most
// recent snapshot under it is used) or, when PATH is an http(s) URL, the
// live /stats endpoint of a running coordinator's status API.
func newShowStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show-stats PATH",
		Short: "Render a past or live run's statistics",
		Long: `show-stats PATH renders a fuzzing run's statistics. PATH may be a
stats/<timestamp>.json file, a dump directory containing one (the latest
is used), or an http(s):// URL pointing at a running coordinator's status
API, in which case its live /stats endpoint is queried instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShowStats(args[0])
		},
	}
	return cmd
}

func runShowStats(path string) error {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return showLiveStats(path)
	}
	return showDumpedStats(path)
}

func showLiveStats(baseURL string) error {
	url := strings.TrimSuffix(baseURL, "/") + "/api/v1/stats"
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return exitErrorf(3, "fetch live stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return exitErrorf(3, "fetch live stats: server returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return exitErrorf(3, "read live stats response: %w", err)
	}
	var stats models.StatsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		return exitErrorf(3, "parse live stats response: %w", err)
	}

	fmt.Printf("live coordinator at %s, uptime %s\n", baseURL, stats.Uptime)
	fmt.Printf("cpu: %.1f%% used (%d cpus)   memory: %.1f%% used\n", stats.CPU.UsedPercent, stats.CPU.NumCPU, stats.Memory.UsedPercent)
	printResolverTable(resolverStatsFromModels(stats.Resolvers))
	if stats.Fleet != nil {
		fmt.Printf("fleet peer %s: %d rounds absorbed, %d polls (%d errors)\n", stats.Fleet.PeerURL, stats.Fleet.LastRounds, stats.Fleet.PollCount, stats.Fleet.ErrorCount)
	}
	return nil
}

func showDumpedStats(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return exitErrorf(3, "stat %s: %w", path, err)
	}

	target := path
	if info.IsDir() {
		latest, err := latestStatsFile(path)
		if err != nil {
			return exitErrorf(3, "find stats snapshot under %s: %w", path, err)
		}
		target = latest
	}

	snap, err := store.LoadStats(target)
	if err != nil {
		return exitErrorf(3, "load stats: %w", err)
	}

	fmt.Printf("run snapshot at %s (rounds run: %d, total diffs: %d)\n", snap.Timestamp.Format(time.RFC3339), snap.RoundsRun, snap.TotalDiffs)
	printResolverTable(snap.ResolverStats)
	return nil
}

// latestStatsFile finds the stats/<unix-ts>.json file with the largest
// timestamp under dumpDir (or dumpDir/stats, if that's the layout).
func latestStatsFile(dumpDir string) (string, error) {
	statsDir := dumpDir
	if _, err := os.Stat(filepath.Join(dumpDir, "stats")); err == nil {
		statsDir = filepath.Join(dumpDir, "stats")
	}

	entries, err := os.ReadDir(statsDir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no stats snapshots found in %s", statsDir)
	}
	sort.Strings(names)
	return filepath.Join(statsDir, names[len(names)-1]), nil
}

func printResolverTable(resolvers map[string]store.ResolverRecord) {
	if len(resolvers) == 0 {
		fmt.Println("no resolver stats recorded")
		return
	}
	ids := make([]string, 0, len(resolvers))
	for id := range resolvers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Printf("%-20s %10s %10s %10s %10s\n", "resolver", "cases_run", "corpus", "crashes", "disabled")
	for _, id := range ids {
		r := resolvers[id]
		fmt.Printf("%-20s %10d %10d %10d %10t\n", id, r.CasesRun, r.CorpusAdds, r.Crashes, r.Disabled)
	}
}

func resolverStatsFromModels(in map[string]models.ResolverStats) map[string]store.ResolverRecord {
	out := make(map[string]store.ResolverRecord, len(in))
	for id, r := range in {
		out[id] = store.ResolverRecord{
			CasesRun:   r.CasesRun,
			CorpusAdds: r.CorpusAdds,
			Crashes:    r.Crashes,
			Disabled:   r.Disabled,
		}
	}
	return out
}
