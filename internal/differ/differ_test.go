package differ

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/harness"
)

func msg(flags uint16, answers ...dnswire.Record) *dnswire.Message {
	return &dnswire.Message{
		Header:  dnswire.Header{ID: 1, Flags: flags},
		Answers: answers,
	}
}

func noErrorFlags() uint16 {
	return dnswire.QRFlag
}

func servFailFlags() uint16 {
	return dnswire.SetFlagsRCode(dnswire.QRFlag, uint16(dnswire.RCodeServFail))
}

func TestDiffStructuralDifferenceOnRCode(t *testing.T) {
	a := harness.FuzzResult{Response: msg(noErrorFlags())}
	b := harness.FuzzResult{Response: msg(servFailFlags())}

	diffs := Diff(a, b)
	found := false
	for _, d := range diffs {
		if d.Category == CategoryStructuralDifference && d.Path == ".fuzzee_response.header.response_code" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDiffLeadsWithResolverName(t *testing.T) {
	a := harness.FuzzResult{ResolverID: "bind", Response: msg(noErrorFlags())}
	b := harness.FuzzResult{ResolverID: "unbound", Response: msg(servFailFlags())}

	diffs := Diff(a, b)
	assert.NotEmpty(t, diffs)
	assert.Equal(t, CategoryResolverName, diffs[0].Category)
	assert.Equal(t, "bind", diffs[0].ValueA)
	assert.Equal(t, "unbound", diffs[0].ValueB)
}

func TestDiffIdenticalResultsIsEmpty(t *testing.T) {
	a := harness.FuzzResult{ResolverID: "bind", Response: msg(noErrorFlags())}
	b := harness.FuzzResult{ResolverID: "unbound", Response: msg(noErrorFlags())}
	assert.Empty(t, Diff(a, b))
}

func TestDiffTagsIdInequalityAsDnsId(t *testing.T) {
	a := harness.FuzzResult{Response: &dnswire.Message{Header: dnswire.Header{ID: 1, Flags: dnswire.QRFlag}}}
	b := harness.FuzzResult{Response: &dnswire.Message{Header: dnswire.Header{ID: 2, Flags: dnswire.QRFlag}}}

	diffs := Diff(a, b)
	var cats []Category
	for _, d := range diffs {
		cats = append(cats, d.Category)
	}
	assert.Contains(t, cats, CategoryDnsId)
	assert.NotContains(t, cats, CategoryStructuralDifference)
}

// reverseSwap mirrors a diff list the way swapping the inputs would: every
// item keeps its path and category with its values exchanged.
func reverseSwap(diffs []DiffItem) []DiffItem {
	out := make([]DiffItem, len(diffs))
	for i, d := range diffs {
		out[i] = DiffItem{Path: d.Path, ValueA: d.ValueB, ValueB: d.ValueA, Category: d.Category}
	}
	return out
}

func TestDiffStableUnderSwap(t *testing.T) {
	rec := dnswire.NewA(dnswire.Name{}, 300, net.IPv4(192, 0, 2, 1))
	a := harness.FuzzResult{ResolverID: "bind", Response: msg(noErrorFlags())}
	b := harness.FuzzResult{ResolverID: "deadwood", Response: msg(servFailFlags(), rec)}

	forward := Diff(a, b)
	backward := Diff(b, a)
	assert.Equal(t, forward, reverseSwap(backward))
}

func TestDiffErrorClientNoRrInAnswer(t *testing.T) {
	rec := dnswire.NewA(dnswire.Name{}, 300, net.IPv4(192, 0, 2, 1))
	a := harness.FuzzResult{Response: msg(noErrorFlags())}
	b := harness.FuzzResult{Response: msg(noErrorFlags(), rec)}

	diffs := Diff(a, b)
	var cats []Category
	for _, d := range diffs {
		cats = append(cats, d.Category)
	}
	assert.Contains(t, cats, CategoryErrorClientNoRrInAnswer)
}

func TestDiffRrsetOrderBenign(t *testing.T) {
	r1 := dnswire.NewA(dnswire.Name{}, 300, net.IPv4(192, 0, 2, 1))
	r2 := dnswire.NewA(dnswire.Name{}, 300, net.IPv4(192, 0, 2, 2))

	a := harness.FuzzResult{Response: msg(noErrorFlags(), r1, r2)}
	b := harness.FuzzResult{Response: msg(noErrorFlags(), r2, r1)}

	diffs := Diff(a, b)
	var cats []Category
	for _, d := range diffs {
		cats = append(cats, d.Category)
	}
	assert.Contains(t, cats, CategoryRrsetOrder)
	assert.NotContains(t, cats, CategoryStructuralDifference)
}

func TestDiffNilResponsesNoPanic(t *testing.T) {
	a := harness.FuzzResult{Failure: harness.FailureResponseDeadline}
	b := harness.FuzzResult{Failure: harness.FailureResponseDeadline}
	assert.NotPanics(t, func() { Diff(a, b) })
}

func TestFingerprintStableOrder(t *testing.T) {
	diffs := []DiffItem{
		{Category: CategoryRrsetOrder, Path: ".fuzzee_response.answers"},
		{Category: CategoryStructuralDifference, Path: ".fuzzee_response.header.response_code"},
	}
	f1 := Fingerprint(diffs)
	f2 := Fingerprint(diffs)
	assert.Equal(t, f1, f2)

	reordered := []DiffItem{diffs[1], diffs[0]}
	assert.NotEqual(t, f1, Fingerprint(reordered))
}
