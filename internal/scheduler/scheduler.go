// Package scheduler drives the fuzzing round loop: generate or mutate a
// batch of cases, dispatch it to every enabled resolver in parallel, feed
// results to the differ and the coverage corpus, and archive
// newly-discovered divergences.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jroosing/resolvfuzz/internal/coverage"
	"github.com/jroosing/resolvfuzz/internal/differ"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
	"github.com/jroosing/resolvfuzz/internal/harness"
)

// Slot probabilities for the non-fresh batch slots: most mutated slots
// run the single-parent catalog, some splice two parents, and a trickle
// re-dispatch a shrunk corpus case to see whether its coverage survives
// the cut (the minimize mutation's "keep the child only if coverage is
// preserved" check needs a real execution).
const (
	pSplice   = 0.10
	pMinimize = 0.05
)

// Config bounds a Scheduler's behavior; zero values resolve to defaults.
type Config struct {
	BatchSize int
	PNew      float64
	// TargetCaseTime is the per-case wallclock budget batch sizing adapts
	// against: when a round averages worse than this, the next round's
	// batch shrinks.
	TargetCaseTime time.Duration
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PNew <= 0 {
		c.PNew = 0.15
	}
	if c.TargetCaseTime <= 0 {
		c.TargetCaseTime = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// minBatchSize is the floor adaptive shrinking stops at; a batch this small
// still amortizes the per-round corpus/diff bookkeeping.
const minBatchSize = 8

// ResolverStats accumulates per-resolver round bookkeeping for the status
// API and show-stats CLI.
type ResolverStats struct {
	CasesRun          int
	CorpusAdds        int
	Crashes           int
	Disabled          bool
	consecutiveFaults int
}

// CorpusAdd is one case admitted to a resolver's corpus during a round,
// surfaced so the caller can persist it (corpus/<resolver>/<uuid>.postcard
// plus the SQLite index) without the scheduler knowing about storage.
type CorpusAdd struct {
	Resolver string
	Case     fuzzcase.Case
	Score    int
	WireSize int
}

// RoundReport summarizes one Round call.
type RoundReport struct {
	BatchSize    int
	NewDiffs     []NewDiff
	CorpusAdds   []CorpusAdd
	ResolverRuns map[string]int
	Elapsed      time.Duration
}

// NewDiff is one freshly-fingerprinted divergence discovered this round.
type NewDiff struct {
	Fingerprint string
	ResolverA   string
	ResolverB   string
	Case        fuzzcase.Case
	Diffs       []differ.DiffItem
}

// Scheduler owns the corpus, coverage frontiers, and the set of harnesses
// it drives. It is the sole mutator of corpus/coverage state; harnesses
// only ever hand back FuzzResults by value.
type Scheduler struct {
	cfg    Config
	rng    *rand.Rand
	corpus *coverage.Corpus
	bp     *backpressure
	logger *slog.Logger

	mu               sync.Mutex
	harnesses        map[string]*harness.Harness
	stats            map[string]*ResolverStats
	seenFingerprints map[string]bool
	nextCaseIndex    uint32
	curBatchSize     int
	pendingMinimize  map[uuid.UUID]uuid.UUID // minimize-candidate case id -> parent id
}

// New builds a Scheduler over the given harnesses (keyed by resolver id).
// seed makes the round loop's generate/mutate decisions reproducible.
func New(cfg Config, harnesses map[string]*harness.Harness, seed int64) *Scheduler {
	cfg = cfg.withDefaults()
	stats := make(map[string]*ResolverStats, len(harnesses))
	for id := range harnesses {
		stats[id] = &ResolverStats{}
	}
	return &Scheduler{
		cfg:              cfg,
		rng:              rand.New(rand.NewSource(seed)),
		corpus:           coverage.NewCorpus(),
		bp:               newBackpressure(),
		logger:           cfg.Logger,
		harnesses:        harnesses,
		stats:            stats,
		seenFingerprints: make(map[string]bool),
		curBatchSize:     cfg.BatchSize,
		pendingMinimize:  make(map[uuid.UUID]uuid.UUID),
	}
}

// Stats returns a snapshot of every resolver's accumulated statistics.
func (s *Scheduler) Stats() map[string]ResolverStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ResolverStats, len(s.stats))
	for id, st := range s.stats {
		out[id] = *st
	}
	return out
}

// Round runs one iteration: build a batch, dispatch it, admit coverage,
// diff every resolver pair, and adapt the batch size.
func (s *Scheduler) Round(ctx context.Context) (RoundReport, error) {
	start := time.Now()
	batch, indices := s.buildBatch()

	results := s.dispatch(ctx, batch, indices)

	newDiffs, corpusAdds := s.admitAndDiff(batch, results)

	report := RoundReport{
		BatchSize:    len(batch),
		NewDiffs:     newDiffs,
		CorpusAdds:   corpusAdds,
		ResolverRuns: make(map[string]int, len(results)),
		Elapsed:      time.Since(start),
	}
	casesExecuted := 0
	for id, rs := range results {
		report.ResolverRuns[id] = len(rs)
		casesExecuted += len(rs)
	}
	s.adaptBatchSize(report.Elapsed, casesExecuted)
	return report, nil
}

// adaptBatchSize shrinks the next batch (halving, down to a floor) when
// this round's average wallclock per executed case overran the target;
// once rounds run under target again, the batch creeps back up toward the
// configured size.
func (s *Scheduler) adaptBatchSize(elapsed time.Duration, casesExecuted int) {
	if casesExecuted == 0 {
		return
	}
	perCase := elapsed / time.Duration(casesExecuted)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case perCase > s.cfg.TargetCaseTime:
		next := s.curBatchSize / 2
		if next < minBatchSize {
			next = minBatchSize
		}
		if next != s.curBatchSize {
			s.logger.Info("scheduler: shrinking batch", "per_case", perCase, "batch", next)
			s.curBatchSize = next
		}
	case s.curBatchSize < s.cfg.BatchSize:
		next := s.curBatchSize + s.curBatchSize/4 + 1
		if next > s.cfg.BatchSize {
			next = s.cfg.BatchSize
		}
		s.curBatchSize = next
	}
}

// buildBatch implements step 1-2: pick a batch size and fill each slot
// with either a fresh case or a mutated parent drawn from the corpus. The
// returned indices are parallel to batch and record which NNNN.fuzz. slot
// each case's ClientQuery actually targets, since the zone index that
// authstack must delegate a case under is not always the case's position
// in the batch slice (mutated parents keep their corpus provenance but are
// retargeted to a fresh slot by reindexCase).
func (s *Scheduler) buildBatch() ([]fuzzcase.Case, []uint32) {
	s.mu.Lock()
	size := s.curBatchSize
	s.mu.Unlock()

	batch := make([]fuzzcase.Case, 0, size)
	indices := make([]uint32, 0, size)
	for i := 0; i < size; i++ {
		idx := s.allocIndex()
		batch = append(batch, reindexCase(s.fillSlot(idx), idx))
		indices = append(indices, idx)
	}
	return batch, indices
}

// fillSlot produces one batch slot's case: fresh with probability PNew,
// otherwise a corpus parent run through the mutation catalog, a splice of
// two parents, or a minimize candidate. Children always get a fresh uuid
// with ParentID recording provenance.
func (s *Scheduler) fillSlot(idx uint32) fuzzcase.Case {
	if s.rng.Float64() < s.cfg.PNew {
		return generateCase(s.rng, idx)
	}
	parent, ok := s.corpus.Select(s.rng)
	if !ok {
		return generateCase(s.rng, idx)
	}

	var child fuzzcase.Case
	var mutated bool
	roll := s.rng.Float64()
	switch {
	case roll < pSplice:
		if second, ok2 := s.corpus.Select(s.rng); ok2 {
			child, mutated = Splice(s.rng, parent, second)
		}
	case roll < pSplice+pMinimize:
		// The preserves check is deferred: the candidate accepts here and
		// admitAndDiff compares its executed coverage against the parent's
		// recorded delta before MinimizeReplace keeps it.
		child, mutated = Minimize(s.rng, parent, func(fuzzcase.Case) bool { return true })
		if mutated {
			child.ID = uuid.New()
			child.ParentID = parent.ID
			s.mu.Lock()
			s.pendingMinimize[child.ID] = parent.ID
			s.mu.Unlock()
			return child
		}
	default:
		child, mutated = Apply(s.rng, parent)
	}
	if !mutated {
		return generateCase(s.rng, idx)
	}
	child.ID = uuid.New()
	child.ParentID = parent.ID
	return child
}

func (s *Scheduler) allocIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.nextCaseIndex
	s.nextCaseIndex++
	return idx
}

// reindexCase rewrites a mutated case's client query name (and matching
// scripted pattern) to target idx's subdomain, since a parent drawn from
// the corpus was generated for a different slot and its delegation would
// otherwise collide with whatever case currently owns that subdomain.
func reindexCase(c fuzzcase.Case, idx uint32) fuzzcase.Case {
	if len(c.ClientQuery.Questions) == 0 {
		return c
	}
	old := c.ClientQuery.Questions[0].Name
	if len(old.Labels) == 0 {
		return c
	}
	leaf := string(old.Labels[0])
	newName := fuzzName(idx, leaf)

	c.ClientQuery.Questions[0].Name = newName
	for i := range c.Responses {
		if c.Responses[i].Match.Name.Equal(old) {
			c.Responses[i].Match.Name = newName
		}
		if len(c.Responses[i].Response.Questions) > 0 && c.Responses[i].Response.Questions[0].Name.Equal(old) {
			c.Responses[i].Response.Questions[0].Name = newName
		}
	}
	for i := range c.CacheChecks {
		if len(c.CacheChecks[i].Questions) > 0 {
			c.CacheChecks[i].Questions[0].Name = newName
		}
	}
	return c
}

// dispatch implements step 3-4's fan-out: every enabled resolver runs the
// whole batch, one case at a time (backpressure caps in-flight suites per
// resolver to one), each resolver's run happening concurrently with every
// other resolver's.
func (s *Scheduler) dispatch(ctx context.Context, batch []fuzzcase.Case, indices []uint32) map[string][]harness.FuzzResult {
	s.mu.Lock()
	ids := make([]string, 0, len(s.harnesses))
	for id, st := range s.stats {
		if !st.Disabled {
			ids = append(ids, id)
		}
	}
	hs := s.harnesses
	s.mu.Unlock()

	out := make(map[string][]harness.FuzzResult, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		h := hs[id]
		wg.Add(1)
		go func(id string, h *harness.Harness) {
			defer wg.Done()
			release := s.bp.Acquire(id)
			defer release()
			results := s.runBatchOn(ctx, id, h, batch, indices)
			mu.Lock()
			out[id] = results
			mu.Unlock()
		}(id, h)
	}
	wg.Wait()
	return out
}

func (s *Scheduler) runBatchOn(ctx context.Context, id string, h *harness.Harness, batch []fuzzcase.Case, indices []uint32) []harness.FuzzResult {
	results := make([]harness.FuzzResult, 0, len(batch))
	for i, c := range batch {
		select {
		case <-ctx.Done():
			return results
		default:
		}
		res := h.RunCase(ctx, indices[i], c)
		s.trackFailure(id, h, ctx, res)
		results = append(results, res)
	}
	return results
}

// trackFailure implements the recovery policy: crashes and control-
// protocol faults trigger a mandatory respawn; a second consecutive fault
// disables the resolver for the remainder of the run.
func (s *Scheduler) trackFailure(id string, h *harness.Harness, ctx context.Context, res harness.FuzzResult) {
	s.mu.Lock()
	st := s.stats[id]
	s.mu.Unlock()

	if res.Failure == harness.FailureNone || res.Failure == harness.FailureResponseDeadline {
		st.CasesRun++
		st.consecutiveFaults = 0
		if h.CacheDirty() {
			if err := h.Respawn(ctx); err != nil {
				s.logger.Warn("scheduler: respawn failed", "resolver", id, "error", err)
			}
		}
		return
	}

	st.Crashes++
	st.consecutiveFaults++
	s.logger.Warn("scheduler: case failure", "resolver", id, "kind", res.Failure.String())
	if err := h.Respawn(ctx); err != nil {
		s.logger.Error("scheduler: respawn after fault failed", "resolver", id, "error", err)
	}
	if st.consecutiveFaults >= 2 {
		s.mu.Lock()
		st.Disabled = true
		s.mu.Unlock()
		s.logger.Error("scheduler: resolver disabled after repeated faults", "resolver", id)
	}
}

// admitAndDiff implements step 4 (corpus admission) and step 5 (diff every
// unordered resolver pair, archive on new fingerprint). Minimize
// candidates bypass normal admission: their executed coverage is compared
// against the parent entry's recorded delta, and only an exact match lets
// the smaller child replace its parent in the corpus.
func (s *Scheduler) admitAndDiff(batch []fuzzcase.Case, results map[string][]harness.FuzzResult) ([]NewDiff, []CorpusAdd) {
	s.mu.Lock()
	pending := s.pendingMinimize
	s.pendingMinimize = make(map[uuid.UUID]uuid.UUID)
	s.mu.Unlock()

	var corpusAdds []CorpusAdd
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		h, ok := s.harnesses[id]
		if !ok {
			continue
		}
		frontier := h.Frontier()
		if frontier == nil {
			continue
		}
		for i, r := range results[id] {
			if !r.Clean() || i >= len(batch) {
				continue
			}
			c := batch[i]
			wireSize := 0
			if r.Response != nil {
				if raw, err := r.Response.Marshal(); err == nil {
					wireSize = len(raw)
				}
			}
			if parentID, isMin := pending[c.ID]; isMin {
				_, _, classified := frontier.Score(r.CoverageDelta)
				if s.corpus.MinimizeReplace(id, parentID, c, classified, wireSize) {
					s.logger.Debug("scheduler: minimized corpus case", "resolver", id, "parent", parentID, "child", c.ID)
				}
				continue
			}
			entry, admitted := s.corpus.Consider(id, frontier, c, r.CoverageDelta, wireSize, len(c.CacheChecks) > 0)
			if admitted {
				s.mu.Lock()
				s.stats[id].CorpusAdds++
				s.mu.Unlock()
				corpusAdds = append(corpusAdds, CorpusAdd{Resolver: id, Case: c, Score: entry.Score, WireSize: wireSize})
			}
		}
	}

	var newDiffs []NewDiff
	for ai := 0; ai < len(ids); ai++ {
		for bi := ai + 1; bi < len(ids); bi++ {
			a, b := ids[ai], ids[bi]
			ra, rb := results[a], results[b]
			n := min(len(ra), len(rb))
			for i := 0; i < n; i++ {
				diffs := differ.Diff(ra[i], rb[i])
				if len(diffs) == 0 {
					continue
				}
				fp := differ.Fingerprint(diffs)
				s.mu.Lock()
				isNew := !s.seenFingerprints[fp]
				s.seenFingerprints[fp] = true
				s.mu.Unlock()
				if isNew && i < len(batch) {
					newDiffs = append(newDiffs, NewDiff{
						Fingerprint: fp,
						ResolverA:   a,
						ResolverB:   b,
						Case:        batch[i],
						Diffs:       diffs,
					})
				}
			}
		}
	}
	return newDiffs, corpusAdds
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
