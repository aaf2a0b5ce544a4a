package authstack

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

// Tree is the fixed base zone (root, fuzz., ns., com., test., net.,
// victim.net.) plus the dynamic per-case `NNNN.fuzz.` delegation overlay.
// There is no zone file to parse: the base content is built in Go, with a
// suffixTrie on top so a query name resolves to the zone (base or per-case
// overlay) that owns it by longest matching suffix.
//
// Every socket the Stack binds shares one Tree: rather than modeling each
// loopback address as a strictly separate authoritative process that would
// refer a resolver on to the next hop, Tree answers authoritatively for the
// whole namespace no matter which bound address received the query. Real
// delegation NS/glue records are still present in the zone content (a
// resolver that double-checks glue still gets a consistent answer), but the
// parent-to-child referral handoff itself is flattened. The interesting
// fuzzing surface (the `NNNN.fuzz.` overlay, DNAME/CNAME loops, mixed
// classes, malformed responses) lives entirely in the scripted overlay,
// which this flattening does not touch; only the inert base tree's
// internal plumbing is simplified.
type Tree struct {
	serial uint32

	mu      sync.RWMutex
	records map[string][]dnswire.Record
	cuts    *suffixTrie
}

// qtypeANY is QTYPE 255, the meta-query meaning "every RRset at this name" —
// distinct from fuzzcase.MatchAnyType's 0xFFFF, which is a ScriptedResponse
// wildcard that never appears on the wire.
const qtypeANY uint16 = 255

// NewBaseTree builds the static base zone tree with SOA serials frozen to
// serial, so a suite replays against byte-identical zone content (the
// suite's seed is the natural source for this value — see
// NewBaseTreeForSuite).
func NewBaseTree(serial uint32) *Tree {
	t := &Tree{
		serial:  serial,
		records: make(map[string][]dnswire.Record),
		cuts:    newSuffixTrie(),
	}
	t.buildBase()
	return t
}

// NewBaseTreeForSuite derives the frozen serial from the suite's seed, so
// two runs of the same suite serve byte-identical SOA records.
func NewBaseTreeForSuite(seed uint64) *Tree {
	return NewBaseTree(uint32(seed))
}

func (t *Tree) buildBase() {
	ns1 := dottedName("ns1.ns.")
	ns2 := dottedName("ns2.ns.")
	victimNS := dottedName("ns-victim.net.")

	t.addApex(dottedName("."), []dnswire.Record{
		mustSOA(dnswire.Root, t.serial, ns1, dottedName("hostmaster.ns.")),
		mustNS(dnswire.Root, ns1),
	})
	t.addGlue(ns1, net.IPv4(127, 96, 1, 1))

	t.addApex(dottedName("fuzz."), []dnswire.Record{
		mustSOA(dottedName("fuzz."), t.serial, ns1, dottedName("hostmaster.fuzz.")),
		mustNS(dottedName("fuzz."), ns1),
	})

	t.addApex(dottedName("ns."), []dnswire.Record{
		mustSOA(dottedName("ns."), t.serial, ns1, dottedName("hostmaster.ns.")),
		mustNS(dottedName("ns."), ns1),
		mustNS(dottedName("ns."), ns2),
	})
	t.addGlue(ns1, net.IPv4(127, 96, 1, 1))
	t.addGlue(ns2, net.IPv4(127, 97, 1, 1))

	t.addApex(dottedName("com."), []dnswire.Record{
		mustSOA(dottedName("com."), t.serial, ns1, dottedName("hostmaster.com.")),
		mustNS(dottedName("com."), ns1),
	})
	t.addRecord(dnswire.NewA(dottedName("www.com."), 3600, net.IPv4(192, 0, 2, 1)))
	t.addRecord(dnswire.NewAAAA(dottedName("www.com."), 3600, net.ParseIP("2001:db8::1")))

	t.addApex(dottedName("test."), []dnswire.Record{
		mustSOA(dottedName("test."), t.serial, ns1, dottedName("hostmaster.test.")),
		mustNS(dottedName("test."), ns1),
	})
	t.addRecord(dnswire.NewA(dottedName("test.test."), 3600, net.IPv4(192, 0, 2, 2)))

	t.addApex(dottedName("net."), []dnswire.Record{
		mustSOA(dottedName("net."), t.serial, ns1, dottedName("hostmaster.net.")),
		mustNS(dottedName("net."), ns1),
	})

	t.addApex(dottedName("victim.net."), []dnswire.Record{
		mustSOA(dottedName("victim.net."), t.serial, victimNS, dottedName("hostmaster.victim.net.")),
		mustNS(dottedName("victim.net."), victimNS),
	})
	t.addGlue(victimNS, net.IPv4(127, 193, 2, 1))
	t.addRecord(dnswire.NewA(dottedName("www.victim.net."), 3600, net.IPv4(192, 0, 2, 3)))

	// net. delegates victim.net. to its own address: the delegation NS is
	// stored at victim.net. itself, a second copy beside the apex NS added
	// above; net.'s own apex RRset does not carry it.
	t.addRecordAt(dottedName("victim.net."), mustNS(dottedName("victim.net."), victimNS))
}

func (t *Tree) addApex(apex dnswire.Name, rrs []dnswire.Record) {
	for _, rr := range rrs {
		t.addRecordAt(apex, rr)
	}
}

func (t *Tree) addGlue(name dnswire.Name, ip net.IP) {
	t.addRecordAt(name, dnswire.NewA(name, 3600, ip))
}

func (t *Tree) addRecord(rr dnswire.Record) {
	t.addRecordAt(rr.Name, rr)
}

func (t *Tree) addRecordAt(name dnswire.Name, rr dnswire.Record) {
	key := nameKey(name)
	t.records[key] = append(t.records[key], rr)
}

// RegisterCase layers case idx's `NNNN.fuzz.` delegation onto the tree and
// returns the glue address the harness's scripted ScriptedResponses will
// answer from. The caller (Stack) binds a listener on that address before
// resolver queries can reach it.
func (t *Tree) RegisterCase(idx uint32) net.IP {
	sub := caseIndexLabel(idx) + ".fuzz."
	nsName := dottedName("ns-" + caseIndexLabel(idx) + ".ns.")
	glue := glueAddressForCase(idx)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.addRecordAt(dottedName(sub), mustNS(dottedName(sub), nsName))
	t.addRecordAt(nsName, dnswire.NewA(nsName, 3600, glue))
	t.cuts.add(dottedName(sub), zoneCut{caseIndex: idx, hasCase: true})

	return glue
}

// ReleaseCase drops idx's overlay once its session is done, so a later
// suite reusing the same index starts clean.
func (t *Tree) ReleaseCase(idx uint32) {
	sub := dottedName(caseIndexLabel(idx) + ".fuzz.")

	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.records, nameKey(sub))
	delete(t.records, nameKey(dottedName("ns-"+caseIndexLabel(idx)+".ns.")))
	t.cuts.remove(sub)
}

// OwningCase reports the case index whose `NNNN.fuzz.` overlay owns name,
// if any.
func (t *Tree) OwningCase(name dnswire.Name) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cut, ok := t.cuts.lookup(name)
	if !ok || !cut.hasCase {
		return 0, false
	}
	return cut.caseIndex, true
}

// LookupResult is what a static-zone question resolves to.
type LookupResult struct {
	Answers  []dnswire.Record
	SOA      dnswire.Record
	HasSOA   bool
	NXDomain bool // true when name has no records of its own AND no descendants (hard NXDOMAIN)
}

// Lookup answers a question against the static base tree (never the
// per-case overlay — callers check OwningCase first).
func (t *Tree) Lookup(name dnswire.Name, qtype, qclass uint16) LookupResult {
	t.mu.RLock()
	defer t.mu.RUnlock()

	key := nameKey(name)
	rrs := t.records[key]

	var answers []dnswire.Record
	for _, rr := range rrs {
		if rr.Class == qclass && (qtype == qtypeANY || rr.Type == qtype) {
			answers = append(answers, rr)
		}
	}

	soa, hasSOA := t.nearestSOA(name, qclass)
	result := LookupResult{Answers: answers, SOA: soa, HasSOA: hasSOA}

	if len(rrs) == 0 && !t.hasDescendant(key) {
		result.NXDomain = true
	}
	return result
}

// nearestSOA walks name's ancestors (including itself) looking for the SOA
// of the zone that contains it.
func (t *Tree) nearestSOA(name dnswire.Name, qclass uint16) (dnswire.Record, bool) {
	labels := name.Labels
	for start := 0; start <= len(labels); start++ {
		candidate := dnswire.Name{Labels: labels[start:]}
		rrs := t.records[nameKey(candidate)]
		for _, rr := range rrs {
			if rr.Class == qclass && dnswire.RecordType(rr.Type) == dnswire.TypeSOA {
				return rr, true
			}
		}
	}
	return dnswire.Record{}, false
}

// hasDescendant reports whether any registered record's name is a strict
// descendant of the name encoded by key, which makes name an empty
// non-terminal (NODATA) rather than a hard NXDOMAIN.
func (t *Tree) hasDescendant(key string) bool {
	if key == "" {
		return len(t.records) > 0
	}
	suffix := "\x00" + key
	for k := range t.records {
		if len(k) > len(key) && strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}

// glueAddressForCase derives a deterministic loopback address for case
// idx's `ns-NNNN.ns.` delegation target, distinct from every address in
// LoopbackAddrs (whose second octet is always one of 64/96/97/98/128/192/
// 193): keeping the second octet in 1..63 guarantees no collision.
func glueAddressForCase(idx uint32) net.IP {
	b := 1 + idx%63
	c := (idx / 63) % 256
	d := 1 + (idx/(63*256))%254
	return net.IPv4(127, byte(b), byte(c), byte(d))
}

func mustSOA(name dnswire.Name, serial uint32, mname, rname dnswire.Name) dnswire.Record {
	rr, err := dnswire.NewSOA(name, 3600, mname, rname, serial, 3600, 900, 604800, 3600)
	if err != nil {
		panic(err)
	}
	return rr
}

func mustNS(name, target dnswire.Name) dnswire.Record {
	rr, err := dnswire.NewNameRecord(dnswire.TypeNS, name, 3600, target)
	if err != nil {
		panic(err)
	}
	return rr
}

// dottedName builds a Name from ASCII presentation text (e.g. "www.com."),
// for the fixed zone content above only — fuzz-case names always come from
// the wire, never from this helper, since they may carry bytes this
// notation can't express.
func dottedName(s string) dnswire.Name {
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return dnswire.Root
	}
	parts := strings.Split(s, ".")
	labels := make([][]byte, len(parts))
	for i, p := range parts {
		labels[i] = []byte(p)
	}
	return dnswire.Name{Labels: labels}
}

// nameKey lowercases (ASCII-only) and joins name's labels with a NUL
// separator for use as a flat map key; labels are raw bytes so a NUL
// separator can't collide with label content ambiguously in a way "."
// could.
func nameKey(name dnswire.Name) string {
	parts := make([]string, len(name.Labels))
	for i, label := range name.Labels {
		lowered := make([]byte, len(label))
		for j, b := range label {
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			lowered[j] = b
		}
		parts[i] = string(lowered)
	}
	return strings.Join(parts, "\x00")
}

// caseIndexLabel renders idx as the `NNNN.fuzz.` decimal label,
// zero-padded to 4 digits for suites under 10000 cases; wider suites
// still get a stable, strictly-increasing label rather than a hard cap.
func caseIndexLabel(idx uint32) string {
	s := strconv.FormatUint(uint64(idx), 10)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}
