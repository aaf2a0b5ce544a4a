package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jroosing/resolvfuzz/internal/differ"
	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
)

// Dumper writes the flat-file dump layout underneath root:
// diffs/<fingerprint>/{case.postcard,report.txt}, stats/<timestamp>.json,
// corpus/<resolver>/<uuid>.postcard, coverage/<resolver>/baseline.bin. This
// keeps a run's output directory self-describing even without the SQLite
// index DB maintains alongside it.
type Dumper struct {
	Root string
}

// NewDumper ensures root's subdirectories exist.
func NewDumper(root string) (*Dumper, error) {
	for _, sub := range []string{"diffs", "corpus", "coverage", "stats"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return &Dumper{Root: root}, nil
}

// DumpDiff writes case.postcard and report.txt for a newly-discovered
// divergence. Overwrites are idempotent: callers only invoke this once per
// fresh fingerprint (the scheduler tracks seenFingerprints), but the dump
// itself does not depend on that for correctness.
func (d *Dumper) DumpDiff(fingerprint string, c fuzzcase.Case, resolverA, resolverB string, diffs []differ.DiffItem) error {
	dir := filepath.Join(d.Root, "diffs", fingerprint)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create diff dir: %w", err)
	}

	suite := fuzzcase.NewSuite(0)
	suite.Cases = []fuzzcase.Case{c}
	raw, err := fuzzcase.Encode(suite)
	if err != nil {
		return fmt.Errorf("encode case: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "case.postcard"), raw, 0o644); err != nil {
		return fmt.Errorf("write case.postcard: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "fingerprint: %s\n", fingerprint)
	fmt.Fprintf(&sb, "case: %s\n", c.ID)
	fmt.Fprintf(&sb, "resolvers: %s vs %s\n", resolverA, resolverB)
	if len(c.ClientQuery.Questions) > 0 {
		q := c.ClientQuery.Questions[0]
		qname := q.Name.String()
		if !q.Name.IsRoot() {
			qname += "."
		}
		fmt.Fprintf(&sb, "question: %s %s %s\n", qname, dnswire.ClassMnemonic(q.Class), dnswire.TypeMnemonic(q.Type))
	}
	fmt.Fprintf(&sb, "client_query: %s\n\n", c.ClientQuery.Summary())
	for _, item := range diffs {
		fmt.Fprintf(&sb, "[%s] %s\n  a: %v\n  b: %v\n", item.Category, item.Path, item.ValueA, item.ValueB)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.txt"), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write report.txt: %w", err)
	}
	return nil
}

// DumpCorpusEntry persists one corpus-admitted case under
// corpus/<resolver>/<uuid>.postcard.
func (d *Dumper) DumpCorpusEntry(resolverID string, c fuzzcase.Case) error {
	dir := filepath.Join(d.Root, "corpus", resolverID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create corpus dir: %w", err)
	}
	suite := fuzzcase.NewSuite(0)
	suite.Cases = []fuzzcase.Case{c}
	raw, err := fuzzcase.Encode(suite)
	if err != nil {
		return fmt.Errorf("encode case: %w", err)
	}
	path := filepath.Join(dir, c.ID.String()+".postcard")
	return os.WriteFile(path, raw, 0o644)
}

// DumpBaseline persists resolverID's calibrated background bitmap.
func (d *Dumper) DumpBaseline(resolverID string, baseline []byte) error {
	dir := filepath.Join(d.Root, "coverage", resolverID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create coverage dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "baseline.bin"), baseline, 0o644)
}

// LoadBaseline reads back a previously-dumped baseline, or (nil, false) if
// resolverID has never been calibrated in this dump directory.
func (d *Dumper) LoadBaseline(resolverID string) ([]byte, bool, error) {
	path := filepath.Join(d.Root, "coverage", resolverID, "baseline.bin")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read baseline: %w", err)
	}
	return raw, true, nil
}

// StatsSnapshot is the shape written to stats/<timestamp>.json and read
// back by `resolvfuzz show-stats PATH` when pointed at a bare file.
type StatsSnapshot struct {
	Timestamp     time.Time                 `json:"timestamp"`
	RoundsRun     int                       `json:"rounds_run"`
	TotalDiffs    int                       `json:"total_diffs"`
	ResolverStats map[string]ResolverRecord `json:"resolver_stats"`
}

// ResolverRecord mirrors scheduler.ResolverStats without importing the
// scheduler package, keeping store dependency-free of the fuzzing loop.
type ResolverRecord struct {
	CasesRun   int  `json:"cases_run"`
	CorpusAdds int  `json:"corpus_adds"`
	Crashes    int  `json:"crashes"`
	Disabled   bool `json:"disabled"`
}

// DumpStats writes a timestamped JSON snapshot. ts is caller-supplied so a
// test can pin the file name; the CLI's live loop passes the wall-clock
// time of the dump.
func (d *Dumper) DumpStats(ts time.Time, snap StatsSnapshot) error {
	snap.Timestamp = ts
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	name := fmt.Sprintf("%d.json", ts.Unix())
	return os.WriteFile(filepath.Join(d.Root, "stats", name), raw, 0o644)
}

// LoadStats reads a stats/<timestamp>.json file back, for `show-stats PATH`.
func LoadStats(path string) (StatsSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StatsSnapshot{}, fmt.Errorf("read stats file: %w", err)
	}
	var snap StatsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return StatsSnapshot{}, fmt.Errorf("parse stats file: %w", err)
	}
	return snap, nil
}
