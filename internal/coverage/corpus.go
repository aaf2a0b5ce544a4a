package coverage

import (
	"bytes"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
	"github.com/jroosing/resolvfuzz/internal/pool"
)

// Entry is one case retained in a resolver's corpus, ranked by the novelty
// it contributed when admitted. Classified keeps the bucket-classified
// delta the case was admitted with, so a later minimization pass can tell
// whether a smaller child reproduces exactly the coverage that made this
// entry interesting.
type Entry struct {
	Case           fuzzcase.Case
	Score          int
	WireSize       int
	FromCacheCheck bool
	Classified     Bitmap
	selectCount    int
}

// Corpus is the ranked, per-resolver store of interesting cases: entries
// are ordered by (descending novelty score, ascending
// wire size as a minimization tiebreaker), and Select draws from the union
// of per-resolver corpora weighted inversely by how often an entry has
// already been picked, so rarely-chosen parents get attention.
type Corpus struct {
	mu      sync.Mutex
	byRes   map[string][]*Entry
	scratch *pool.Pool[*Bitmap]
}

// NewCorpus builds an empty corpus. scratch pools reusable delta buffers
// for the scheduler's tight per-round coverage bookkeeping.
func NewCorpus() *Corpus {
	return &Corpus{
		byRes: make(map[string][]*Entry),
		scratch: pool.New(func() *Bitmap {
			b := make(Bitmap, 0, 65536)
			return &b
		}),
	}
}

// borrowScratch and returnScratch hand out and reclaim a reusable Bitmap
// buffer for short-lived delta computations (e.g. a mutation's dry-run
// score check) that would otherwise allocate on every round.
func (c *Corpus) borrowScratch() *Bitmap { return c.scratch.Get() }
func (c *Corpus) returnScratch(b *Bitmap) {
	*b = (*b)[:0]
	c.scratch.Put(b)
}

// Consider scores raw against frontier and, if novel, admits it and
// records the case as a new corpus entry for resolver. Returns the entry
// and true if the case was corpus-worthy: new edges, or any bucket
// increase — Frontier.Score's newEdges already captures both, since a
// bucket transition IS a new (guard,bucket) pair.
func (c *Corpus) Consider(resolver string, frontier *Frontier, fc fuzzcase.Case, raw Bitmap, wireSize int, fromCacheCheck bool) (*Entry, bool) {
	newEdges, novel, classified := frontier.Score(raw)
	if !novel {
		return nil, false
	}
	frontier.Admit(classified)

	e := &Entry{Case: fc, Score: newEdges, WireSize: wireSize, FromCacheCheck: fromCacheCheck, Classified: classified}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byRes[resolver] = append(c.byRes[resolver], e)
	rankEntries(c.byRes[resolver])
	return e, true
}

// rankEntries sorts in place by (-Score, WireSize): highest novelty
// first, smallest case wins ties.
func rankEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].WireSize < entries[j].WireSize
	})
}

// Len reports how many entries resolver's corpus currently holds.
func (c *Corpus) Len(resolver string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byRes[resolver])
}

// Select draws a parent case from the union of every resolver's corpus,
// weighted inversely by selection count (1/(1+selectCount)) so
// infrequently-picked entries are more likely to come up.
// Returns false if every corpus is empty.
func (c *Corpus) Select(rng *rand.Rand) (fuzzcase.Case, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pool []*Entry
	var weights []float64
	total := 0.0
	for _, entries := range c.byRes {
		for _, e := range entries {
			w := 1.0 / float64(1+e.selectCount)
			pool = append(pool, e)
			weights = append(weights, w)
			total += w
		}
	}
	if len(pool) == 0 {
		return fuzzcase.Case{}, false
	}

	pick := rng.Float64() * total
	for i, w := range weights {
		pick -= w
		if pick <= 0 {
			pool[i].selectCount++
			return pool[i].Case.Clone(), true
		}
	}
	last := pool[len(pool)-1]
	last.selectCount++
	return last.Case.Clone(), true
}

// MinimizeReplace swaps the parent entry's case for a smaller child that
// reproduced exactly the classified coverage the parent was admitted
// with: the child is kept only if coverage is preserved, and "kept" means
// it replaces its parent in the ranking rather
// than occupying a second slot. Reports whether the replacement happened.
func (c *Corpus) MinimizeReplace(resolver string, parentID uuid.UUID, child fuzzcase.Case, childClassified Bitmap, wireSize int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.byRes[resolver] {
		if e.Case.ID != parentID {
			continue
		}
		if wireSize >= e.WireSize {
			return false
		}
		if !bytes.Equal(e.Classified, childClassified) {
			return false
		}
		e.Case = child
		e.WireSize = wireSize
		rankEntries(c.byRes[resolver])
		return true
	}
	return false
}

// Evict drops resolver's lowest-ranked entries down to max, e.g. when a
// dump directory enforces a retention cap. No-op if the corpus is already
// at or under max.
func (c *Corpus) Evict(resolver string, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.byRes[resolver]
	if len(entries) <= max {
		return
	}
	c.byRes[resolver] = entries[:max]
}
