package scheduler

import (
	"math/rand"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
)

// Mutation is one catalog entry: a pure function over a copy-on-write
// Case. It returns false when the random draft it produced
// fell outside codec limits, so the caller can retry or fall back to fresh
// generation rather than admit a corrupt case.
type Mutation func(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool)

// weightedMutation pairs a mutation with its selection weight. Weights
// mirror the catalog's prose ordering rather than a tuned distribution;
// record-shape mutations get a mild bump since they are cheap ways to
// surface codec/class-confusion bugs the probe list highlights.
type weightedMutation struct {
	name   string
	weight int
	fn     Mutation
}

var catalog = []weightedMutation{
	{"header_bit_flip", 10, HeaderBitFlip},
	{"rcode_rotate", 8, RcodeRotate},
	{"question_rewrite", 10, QuestionRewrite},
	{"record_insertion", 12, RecordInsertion},
	{"record_class_scramble", 8, RecordClassScramble},
	{"record_name_shuffle", 8, RecordNameShuffle},
	{"script_reorder", 6, ScriptReorder},
	{"script_drop", 6, ScriptDrop},
	{"cache_check_toggle", 6, CacheCheckToggle},
}

func totalWeight() int {
	t := 0
	for _, m := range catalog {
		t += m.weight
	}
	return t
}

// pick draws one catalog entry weighted by its configured weight.
func pick(rng *rand.Rand) weightedMutation {
	n := rng.Intn(totalWeight())
	for _, m := range catalog {
		if n < m.weight {
			return m
		}
		n -= m.weight
	}
	return catalog[len(catalog)-1]
}

// Apply runs between 1 and 4 randomly-chosen catalog mutations against c
// in sequence, retrying a mutation up to a small budget if it rejects its
// own draft before giving up on that slot.
func Apply(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	n := 1 + rng.Intn(4)
	cur := c.Clone()
	applied := false
	for i := 0; i < n; i++ {
		const retryBudget = 3
		for attempt := 0; attempt < retryBudget; attempt++ {
			m := pick(rng)
			next, ok := m.fn(rng, cur)
			if ok {
				cur = next
				applied = true
				break
			}
		}
	}
	return cur, applied
}

// HeaderBitFlip flips one random flag bit in either the client query or a
// randomly-chosen scripted response.
func HeaderBitFlip(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	bit := randFlagBitRng(rng)
	if len(c.Responses) == 0 || rng.Intn(2) == 0 {
		c.ClientQuery.Header.Flags ^= bit
		return c, true
	}
	i := rng.Intn(len(c.Responses))
	c.Responses[i].Response.Header.Flags ^= bit
	return c, true
}

func randFlagBitRng(rng *rand.Rand) uint16 {
	bits := []uint16{
		dnswire.QRFlag, dnswire.AAFlag, dnswire.TCFlag, dnswire.RDFlag,
		dnswire.RAFlag, dnswire.ZFlag, dnswire.ADFlag, dnswire.CDFlag,
	}
	return bits[rng.Intn(len(bits))]
}

// rcodeChoices spans the base 4-bit space plus a few RFC 6891
// extended-RCODE values worth exercising even without a paired OPT record.
var rcodeChoices = []uint16{0, 1, 2, 3, 4, 5, 6, 7, 9, 10, 16, 23}

// RcodeRotate replaces the response code of the client query or a scripted
// response with a different value drawn from the extended range.
func RcodeRotate(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	rc := rcodeChoices[rng.Intn(len(rcodeChoices))]
	if len(c.Responses) == 0 || rng.Intn(2) == 0 {
		c.ClientQuery.Header.Flags = dnswire.SetFlagsRCode(c.ClientQuery.Header.Flags, rc)
		return c, true
	}
	i := rng.Intn(len(c.Responses))
	r := c.Responses[i].Response
	r.Header.Flags = dnswire.SetFlagsRCode(r.Header.Flags, rc)
	c.Responses[i].Response = r
	return c, true
}

// QuestionRewrite mutates the client query's single question: its type,
// class, or name (label edit, embedded NUL, or length extension up to the
// codec's limits).
func QuestionRewrite(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	if len(c.ClientQuery.Questions) == 0 {
		return c, false
	}
	q := c.ClientQuery.Questions[0]
	switch rng.Intn(3) {
	case 0:
		q.Type = randRRType(rng)
	case 1:
		q.Class = randRRClass(rng)
	case 2:
		mutated, ok := mutateName(rng, q.Name)
		if !ok {
			return c, false
		}
		q.Name = mutated
	}
	c.ClientQuery.Questions[0] = q
	return c, true
}

var rrTypeChoices = []uint16{1, 2, 5, 6, 12, 15, 16, 28, 41, 255, 46, 65535}

func randRRType(rng *rand.Rand) uint16 { return rrTypeChoices[rng.Intn(len(rrTypeChoices))] }

var rrClassChoices = []uint16{1, 3, 4, 255}

func randRRClass(rng *rand.Rand) uint16 { return rrClassChoices[rng.Intn(len(rrClassChoices))] }

// mutateName applies one of: flip a byte in a random label, inject an
// embedded NUL, or append a filler label, while keeping the result within
// dnswire's label/name length caps.
func mutateName(rng *rand.Rand, n dnswire.Name) (dnswire.Name, bool) {
	out := dnswire.Name{Labels: append([][]byte(nil), n.Labels...)}
	switch {
	case len(out.Labels) > 0 && rng.Intn(3) == 0:
		i := rng.Intn(len(out.Labels))
		label := append([]byte(nil), out.Labels[i]...)
		if len(label) == 0 {
			label = []byte{'a'}
		}
		j := rng.Intn(len(label))
		label[j] ^= byte(1 + rng.Intn(255))
		out.Labels[i] = label
	case len(out.Labels) > 0 && rng.Intn(2) == 0:
		i := rng.Intn(len(out.Labels))
		label := append([]byte(nil), out.Labels[i]...)
		label = append(label, 0x00)
		if len(label) > 63 {
			return n, false
		}
		out.Labels[i] = label
	default:
		if len(out.Labels) >= 127 {
			return n, false
		}
		out.Labels = append(out.Labels, []byte("mutant"))
	}
	total := 0
	for _, l := range out.Labels {
		total += len(l) + 1
	}
	if total > 255 {
		return n, false
	}
	return out, true
}

// biasedRecordType favors CNAME/DNAME/NS/A/SOA and the occasional unknown
// type, the shapes most likely to push a resolver into chasing, caching,
// or mis-classifying a record.
func biasedRecordType(rng *rand.Rand) uint16 {
	weighted := []struct {
		t uint16
		w int
	}{
		{uint16(dnswire.TypeCNAME), 20},
		{39, 15}, // DNAME
		{uint16(dnswire.TypeNS), 15},
		{uint16(dnswire.TypeA), 20},
		{uint16(dnswire.TypeSOA), 10},
		{65280, 10}, // private-use/unknown
	}
	total := 0
	for _, w := range weighted {
		total += w.w
	}
	n := rng.Intn(total)
	for _, w := range weighted {
		if n < w.w {
			return w.t
		}
		n -= w.w
	}
	return weighted[len(weighted)-1].t
}

// sectionPtr returns a pointer to one of a response's three record
// sections, chosen at random, so insertion/scramble/shuffle mutations can
// share the same section-picking logic.
func sectionPtr(rng *rand.Rand, m *dnswire.Message) *[]dnswire.Record {
	switch rng.Intn(3) {
	case 0:
		return &m.Answers
	case 1:
		return &m.Authority
	default:
		return &m.Additional
	}
}

// RecordInsertion appends a record of a biased-random type to a random
// section of a random scripted response.
func RecordInsertion(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	if len(c.Responses) == 0 {
		return c, false
	}
	i := rng.Intn(len(c.Responses))
	r := c.Responses[i].Response
	sec := sectionPtr(rng, &r)
	// Copy before append: the section's backing array may still be shared
	// with the corpus parent this case was cloned from.
	*sec = append([]dnswire.Record(nil), *sec...)
	owner := dnswire.Root
	if len(c.ClientQuery.Questions) > 0 {
		owner = c.ClientQuery.Questions[0].Name
	}
	rec := dnswire.Record{
		Name:  owner,
		Type:  biasedRecordType(rng),
		Class: uint16(dnswire.ClassIN),
		TTL:   uint32(rng.Intn(3600)),
		RData: randBytes(rng, rng.Intn(32)),
	}
	*sec = append(*sec, rec)
	c.Responses[i].Response = r
	return c, true
}

func randBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

// RecordClassScramble sets a random subset of a response's records to a
// non-IN class, probing class-confusion handling.
func RecordClassScramble(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	if len(c.Responses) == 0 {
		return c, false
	}
	i := rng.Intn(len(c.Responses))
	r := c.Responses[i].Response
	r.Answers = append([]dnswire.Record(nil), r.Answers...)
	r.Authority = append([]dnswire.Record(nil), r.Authority...)
	r.Additional = append([]dnswire.Record(nil), r.Additional...)
	touched := false
	for _, sec := range [][]dnswire.Record{r.Answers, r.Authority, r.Additional} {
		for j := range sec {
			if rng.Intn(3) == 0 {
				sec[j].Class = rrClassChoices[rng.Intn(len(rrClassChoices))]
				touched = true
			}
		}
	}
	if !touched {
		return c, false
	}
	c.Responses[i].Response = r
	return c, true
}

// RecordNameShuffle repoints a CNAME/DNAME record's target at a name built
// to create a self-referencing loop or an extended label chain, exercising
// the same class of bug the DNAME self-expansion scenario targets.
func RecordNameShuffle(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	if len(c.Responses) == 0 {
		return c, false
	}
	i := rng.Intn(len(c.Responses))
	r := c.Responses[i].Response
	r.Answers = append([]dnswire.Record(nil), r.Answers...)
	r.Authority = append([]dnswire.Record(nil), r.Authority...)
	r.Additional = append([]dnswire.Record(nil), r.Additional...)
	for _, sec := range [][]dnswire.Record{r.Answers, r.Authority, r.Additional} {
		for j := range sec {
			if sec[j].Type != uint16(dnswire.TypeCNAME) && sec[j].Type != 39 {
				continue
			}
			target := sec[j].Name
			if rng.Intn(2) == 0 {
				target = dnswire.Name{Labels: append(append([][]byte(nil), []byte("loop")), sec[j].Name.Labels...)}
			}
			rdata, err := dnswire.EncodeName(target)
			if err != nil {
				continue
			}
			sec[j].RData = rdata
			c.Responses[i].Response = r
			return c, true
		}
	}
	return c, false
}

// ScriptReorder swaps two scripted responses, testing that consume-on-use
// ordering is honored regardless of script authoring order.
func ScriptReorder(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	if len(c.Responses) < 2 {
		return c, false
	}
	i, j := rng.Intn(len(c.Responses)), rng.Intn(len(c.Responses))
	if i == j {
		return c, false
	}
	c.Responses[i], c.Responses[j] = c.Responses[j], c.Responses[i]
	return c, true
}

// ScriptDrop removes a random scripted response, which can turn an
// otherwise-answered question into a dead end the resolver must handle.
func ScriptDrop(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	if len(c.Responses) == 0 {
		return c, false
	}
	i := rng.Intn(len(c.Responses))
	c.Responses = append(c.Responses[:i:i], c.Responses[i+1:]...)
	return c, true
}

// CacheCheckToggle adds a follow-up query repeating the client question (a
// cache-check probing whether upstream data leaked into the cache) or, if
// one is already present, removes it.
func CacheCheckToggle(rng *rand.Rand, c fuzzcase.Case) (fuzzcase.Case, bool) {
	if len(c.CacheChecks) > 0 && rng.Intn(2) == 0 {
		i := rng.Intn(len(c.CacheChecks))
		c.CacheChecks = append(c.CacheChecks[:i:i], c.CacheChecks[i+1:]...)
		return c, true
	}
	c.CacheChecks = append(c.CacheChecks, c.ClientQuery)
	return c, true
}

// Splice takes the answer/authority/additional sections of a random
// scripted response pair, one each from p and q; q's response for the
// chosen section replaces p's.
func Splice(rng *rand.Rand, p, q fuzzcase.Case) (fuzzcase.Case, bool) {
	if len(p.Responses) == 0 || len(q.Responses) == 0 {
		return p, false
	}
	child := p.Clone()
	pi := rng.Intn(len(child.Responses))
	qi := rng.Intn(len(q.Responses))
	pr, qr := child.Responses[pi].Response, q.Responses[qi].Response
	switch rng.Intn(3) {
	case 0:
		pr.Answers = append([]dnswire.Record(nil), qr.Answers...)
	case 1:
		pr.Authority = append([]dnswire.Record(nil), qr.Authority...)
	default:
		pr.Additional = append([]dnswire.Record(nil), qr.Additional...)
	}
	child.Responses[pi].Response = pr
	return child, true
}

// Minimize removes one record or script entry and asks preserves whether
// the resulting case still reproduces the coverage that made its parent
// interesting. If not, Minimize reports failure and the caller keeps the
// unminimized case.
func Minimize(rng *rand.Rand, c fuzzcase.Case, preserves func(fuzzcase.Case) bool) (fuzzcase.Case, bool) {
	candidate := c.Clone()
	switch rng.Intn(2) {
	case 0:
		if len(candidate.Responses) == 0 {
			return c, false
		}
		i := rng.Intn(len(candidate.Responses))
		r := candidate.Responses[i].Response
		for _, s := range []*[]dnswire.Record{&r.Answers, &r.Authority, &r.Additional} {
			if len(*s) > 0 {
				j := rng.Intn(len(*s))
				*s = append((*s)[:j:j], (*s)[j+1:]...)
				break
			}
		}
		candidate.Responses[i].Response = r
	default:
		if len(candidate.Responses) == 0 {
			return c, false
		}
		i := rng.Intn(len(candidate.Responses))
		candidate.Responses = append(candidate.Responses[:i:i], candidate.Responses[i+1:]...)
	}
	if preserves == nil || !preserves(candidate) {
		return c, false
	}
	return candidate, true
}
