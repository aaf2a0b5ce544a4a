package differ

import (
	"github.com/jroosing/resolvfuzz/internal/authstack"
	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/harness"
)

// side wraps one resolver's FuzzResult with the few derived views the rule
// table needs repeatedly, so individual Match functions stay one-liners.
type side struct {
	result harness.FuzzResult
}

func (s side) hasResponse() bool { return s.result.Response != nil }

func (s side) header() dnswire.Header {
	if s.result.Response == nil {
		return dnswire.Header{}
	}
	return s.result.Response.Header
}

// recordCount sums every section, the "zero records across all sections"
// test the ErrorClientNoRrInAnswer rule asks for.
func (s side) recordCount() int {
	if s.result.Response == nil {
		return 0
	}
	r := s.result.Response
	return len(r.Answers) + len(r.Authority) + len(r.Additional)
}

func (s side) edns() *dnswire.OPTRecord {
	if s.result.Response == nil {
		return nil
	}
	return dnswire.ExtractOPT(s.result.Response.Additional)
}

// upstreamSawNoData scans the resolver's own queries to the authoritative
// stack for a NoError reply carrying zero answers — the closest a
// FuzzResult alone can get to "the upstream answer was NODATA" without the
// originating FuzzCase in hand, since that NODATA reply is exactly what the
// scripted response produced when the resolver asked for it.
func (s side) upstreamSawNoData() bool {
	for _, ex := range s.result.FuzzeeQueries {
		if !ex.Message.Header.QR() {
			continue
		}
		if ex.Message.Header.RCode() != uint16(dnswire.RCodeNoError) {
			continue
		}
		if len(ex.Message.Answers) == 0 {
			return true
		}
	}
	return false
}

// trailingExtra reports how many more queries b's resolver sent to the
// authoritative stack than a's did in total (names are not compared), the simplest available
// signal that one side just retried more than the other without either
// side's answer actually differing.
func trailingExtra(a, b []authstack.Exchange) int {
	if len(b) <= len(a) {
		return 0
	}
	return len(b) - len(a)
}

// matchDnsId reports transaction-id inequality under its own category
// rather than folding it into StructuralDifference: ids are the one header
// field whose value carries no meaning, so the item is retained (real ids,
// real path) but tagged so consumers can ignore it.
func matchDnsId(ctx ruleContext) []DiffItem {
	ra, rb := ctx.a.result.Response, ctx.b.result.Response
	if ra == nil || rb == nil {
		return nil
	}
	if ra.Header.ID == rb.Header.ID {
		return nil
	}
	return []DiffItem{{Path: ".fuzzee_response.header.id", ValueA: ra.Header.ID, ValueB: rb.Header.ID, Category: CategoryDnsId}}
}

func matchRrsetOrder(ctx ruleContext) []DiffItem {
	ra, rb := ctx.a.result.Response, ctx.b.result.Response
	if ra == nil || rb == nil {
		return nil
	}
	if sameRecordsDifferentOrder(ra.Answers, rb.Answers) {
		return []DiffItem{{Path: ".fuzzee_response.answers", ValueA: ra.Answers, ValueB: rb.Answers, Category: CategoryRrsetOrder}}
	}
	return nil
}

func sameRecordsDifferentOrder(a, b []dnswire.Record) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	if recordsEqualInOrder(a, b) {
		return false
	}
	return multisetEqual(a, b)
}

func recordsEqualInOrder(a, b []dnswire.Record) bool {
	for i := range a {
		if !recordEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func recordEqual(x, y dnswire.Record) bool {
	return x.Name.Equal(y.Name) && x.Type == y.Type && x.Class == y.Class &&
		x.TTL == y.TTL && string(x.RData) == string(y.RData)
}

func multisetEqual(a, b []dnswire.Record) bool {
	used := make([]bool, len(b))
	for _, ra := range a {
		found := false
		for j, rb := range b {
			if used[j] {
				continue
			}
			if recordEqual(ra, rb) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchNoEdnsSupport(ctx ruleContext) []DiffItem {
	ea, eb := ctx.a.edns(), ctx.b.edns()
	if (ea == nil) == (eb == nil) {
		return nil
	}
	return []DiffItem{{Path: ".fuzzee_response.edns", ValueA: ea, ValueB: eb, Category: CategoryNoEdnsSupport}}
}

func matchTrailingRetransmissions(ctx ruleContext) []DiffItem {
	extraB := trailingExtra(ctx.a.result.FuzzeeQueries, ctx.b.result.FuzzeeQueries)
	extraA := trailingExtra(ctx.b.result.FuzzeeQueries, ctx.a.result.FuzzeeQueries)
	if extraA == 0 && extraB == 0 {
		return nil
	}
	return []DiffItem{{
		Path:     ".fuzzee_queries.#count",
		ValueA:   len(ctx.a.result.FuzzeeQueries),
		ValueB:   len(ctx.b.result.FuzzeeQueries),
		Category: CategoryTrailingRetransmissions,
	}}
}

func matchErrorClientNoRrInAnswer(ctx ruleContext) []DiffItem {
	zeroA, zeroB := ctx.a.recordCount() == 0, ctx.b.recordCount() == 0
	if zeroA == zeroB {
		return nil
	}
	return []DiffItem{{
		Path:     ".fuzzee_response.#records",
		ValueA:   ctx.a.recordCount(),
		ValueB:   ctx.b.recordCount(),
		Category: CategoryErrorClientNoRrInAnswer,
	}}
}

// matchResolvedServFailOnNoData checks both orderings since the rule is
// symmetric in which side ServFails.
func matchResolvedServFailOnNoData(ctx ruleContext) []DiffItem {
	a, b := ctx.a, ctx.b
	if (isServFail(a) && isNoErrorEmpty(b) && b.upstreamSawNoData()) ||
		(isServFail(b) && isNoErrorEmpty(a) && a.upstreamSawNoData()) {
		return []DiffItem{{Path: ".fuzzee_response.header.response_code", ValueA: a.header().RCode(), ValueB: b.header().RCode(), Category: CategoryResolvedServFailOnNoData}}
	}
	return nil
}

func isServFail(s side) bool {
	return s.hasResponse() && s.header().RCode() == uint16(dnswire.RCodeServFail)
}

func isNoErrorEmpty(s side) bool {
	return s.hasResponse() && s.header().RCode() == uint16(dnswire.RCodeNoError) && s.recordCount() == 0
}

// matchStructuralDifference is the catch-all: every response-code,
// answer-count or failure-kind mismatch is reported here, including one a
// more specific rule above has already tagged under its own category.
func matchStructuralDifference(ctx ruleContext) []DiffItem {
	var diffs []DiffItem
	ha, hb := ctx.a.header(), ctx.b.header()
	if ha.RCode() != hb.RCode() {
		diffs = append(diffs, DiffItem{Path: ".fuzzee_response.header.response_code", ValueA: ha.RCode(), ValueB: hb.RCode(), Category: CategoryStructuralDifference})
	}
	ra, rb := ctx.a.result.Response, ctx.b.result.Response
	countA, countB := 0, 0
	if ra != nil {
		countA = len(ra.Answers)
	}
	if rb != nil {
		countB = len(rb.Answers)
	}
	if countA != countB {
		diffs = append(diffs, DiffItem{Path: ".fuzzee_response.answers.#count", ValueA: countA, ValueB: countB, Category: CategoryStructuralDifference})
	}
	if ctx.a.result.Failure != ctx.b.result.Failure {
		diffs = append(diffs, DiffItem{Path: ".failure", ValueA: ctx.a.result.Failure.String(), ValueB: ctx.b.result.Failure.String(), Category: CategoryStructuralDifference})
	}
	return diffs
}

// Diff compares two resolvers' results for the same case and returns every
// difference the rule table recognizes, in priority order and, within one
// rule, in the fixed order that rule emits its items, so diffs have a total
// order and the fingerprint is stable. A non-empty diff always leads with a ResolverName item
// naming the pair, so downstream grouping by pair needs no side channel.
func Diff(a, b harness.FuzzResult) []DiffItem {
	ctx := ruleContext{a: side{result: a}, b: side{result: b}}
	var out []DiffItem
	for _, rule := range sortedTable() {
		out = append(out, rule.Match(ctx)...)
	}
	if len(out) == 0 {
		return nil
	}
	named := make([]DiffItem, 0, len(out)+1)
	named = append(named, DiffItem{Path: ".resolver_name", ValueA: a.ResolverID, ValueB: b.ResolverID, Category: CategoryResolverName})
	return append(named, out...)
}
