package authstack

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

func TestBaseTreeServesStaticAnswers(t *testing.T) {
	tree := NewBaseTree(1)

	result := tree.Lookup(dottedName("www.com."), uint16(dnswire.TypeA), uint16(dnswire.ClassIN))
	require.Len(t, result.Answers, 1)
	assert.Equal(t, uint16(dnswire.TypeA), result.Answers[0].Type)
	ip, ok := result.Answers[0].IPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", ip.String())
	assert.False(t, result.NXDomain)
}

func TestBaseTreeRootApex(t *testing.T) {
	tree := NewBaseTree(1)

	result := tree.Lookup(dnswire.Root, uint16(dnswire.TypeNS), uint16(dnswire.ClassIN))
	require.Len(t, result.Answers, 1)
	assert.Equal(t, uint16(dnswire.TypeNS), result.Answers[0].Type)

	soa := tree.Lookup(dnswire.Root, uint16(dnswire.TypeSOA), uint16(dnswire.ClassIN))
	require.Len(t, soa.Answers, 1)
}

func TestBaseTreeNXDomainCarriesNearestSOA(t *testing.T) {
	tree := NewBaseTree(1)

	result := tree.Lookup(dottedName("nonexistent.victim.net."), uint16(dnswire.TypeA), uint16(dnswire.ClassIN))
	assert.Empty(t, result.Answers)
	assert.True(t, result.NXDomain)
	require.True(t, result.HasSOA)
	assert.True(t, result.SOA.Name.Equal(dottedName("victim.net.")))
}

func TestBaseTreeNodataForExistingNameWrongType(t *testing.T) {
	tree := NewBaseTree(1)

	// www.com. exists but has no TXT record: NODATA, not NXDOMAIN.
	result := tree.Lookup(dottedName("www.com."), uint16(dnswire.TypeTXT), uint16(dnswire.ClassIN))
	assert.Empty(t, result.Answers)
	assert.False(t, result.NXDomain)
	assert.True(t, result.HasSOA)
}

func TestBaseTreeEmptyNonTerminalIsNotNXDomain(t *testing.T) {
	tree := NewBaseTree(1)
	tree.addRecord(dnswire.NewA(dottedName("deep.ent.test."), 3600, net.IPv4(192, 0, 2, 9)))

	// ent.test. has no records of its own but a descendant does: an empty
	// non-terminal answers NODATA, not NXDOMAIN, per the fallback rule.
	result := tree.Lookup(dottedName("ent.test."), uint16(dnswire.TypeA), uint16(dnswire.ClassIN))
	assert.Empty(t, result.Answers)
	assert.False(t, result.NXDomain)
}

func TestBaseTreeQtypeANYReturnsAllRecords(t *testing.T) {
	tree := NewBaseTree(1)

	result := tree.Lookup(dottedName("ns."), qtypeANY, uint16(dnswire.ClassIN))
	assert.GreaterOrEqual(t, len(result.Answers), 3, "apex holds SOA plus two NS")
}

func TestBaseTreeSerialFrozenPerSuite(t *testing.T) {
	a := NewBaseTreeForSuite(77)
	b := NewBaseTreeForSuite(77)

	soaA := a.Lookup(dnswire.Root, uint16(dnswire.TypeSOA), uint16(dnswire.ClassIN))
	soaB := b.Lookup(dnswire.Root, uint16(dnswire.TypeSOA), uint16(dnswire.ClassIN))
	require.Len(t, soaA.Answers, 1)
	require.Len(t, soaB.Answers, 1)
	assert.Equal(t, soaA.Answers[0].RData, soaB.Answers[0].RData, "same seed, byte-identical SOA")

	c := NewBaseTreeForSuite(78)
	soaC := c.Lookup(dnswire.Root, uint16(dnswire.TypeSOA), uint16(dnswire.ClassIN))
	require.Len(t, soaC.Answers, 1)
	assert.NotEqual(t, soaA.Answers[0].RData, soaC.Answers[0].RData)
}

func TestRegisterCaseDelegationAndOwnership(t *testing.T) {
	tree := NewBaseTree(1)
	glue := tree.RegisterCase(7)

	idx, ok := tree.OwningCase(dottedName("deep.name.0007.fuzz."))
	require.True(t, ok)
	assert.Equal(t, uint32(7), idx)

	// Delegation NS and glue A records are visible in the static tree.
	ns := tree.Lookup(dottedName("0007.fuzz."), uint16(dnswire.TypeNS), uint16(dnswire.ClassIN))
	require.Len(t, ns.Answers, 1)
	a := tree.Lookup(dottedName("ns-0007.ns."), uint16(dnswire.TypeA), uint16(dnswire.ClassIN))
	require.Len(t, a.Answers, 1)
	ip, ok := a.Answers[0].IPv4()
	require.True(t, ok)
	assert.Equal(t, glue.String(), ip.String())

	tree.ReleaseCase(7)
	_, ok = tree.OwningCase(dottedName("deep.name.0007.fuzz."))
	assert.False(t, ok)
}

func TestGlueAddressAvoidsFixedRoles(t *testing.T) {
	fixed := make(map[string]bool, len(LoopbackAddrs))
	for _, addr := range LoopbackAddrs {
		fixed[addr] = true
	}
	for idx := uint32(0); idx < 500; idx++ {
		glue := glueAddressForCase(idx)
		assert.False(t, fixed[glue.String()], "case glue %s collides with a fixed role address", glue)
		b := glue.To4()[1]
		assert.GreaterOrEqual(t, b, byte(1))
		assert.LessOrEqual(t, b, byte(63))
	}
}

func TestCaseIndexLabelPadding(t *testing.T) {
	assert.Equal(t, "0000", caseIndexLabel(0))
	assert.Equal(t, "0042", caseIndexLabel(42))
	assert.Equal(t, "9999", caseIndexLabel(9999))
	assert.Equal(t, "12345", caseIndexLabel(12345))
}
