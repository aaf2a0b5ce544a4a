package scheduler

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
)

// subdomainLabel renders idx the way internal/authstack's zone tree does,
// a zero-padded decimal label under `fuzz.`; the case's ClientQuery must
// target this exact subdomain so the authoritative stack's per-case
// overlay is the one actually asked.
func subdomainLabel(idx uint32) string {
	return fmt.Sprintf("%04d", idx)
}

func fuzzName(idx uint32, leaf string) dnswire.Name {
	labels := [][]byte{[]byte(leaf), []byte(subdomainLabel(idx)), []byte("fuzz")}
	return dnswire.Name{Labels: labels}
}

// generateCase produces a fresh, minimal-but-valid case for suite slot idx:
// a single-question client query under its NNNN.fuzz. subdomain and one
// scripted response answering it.
func generateCase(rng *rand.Rand, idx uint32) fuzzcase.Case {
	qname := fuzzName(idx, randLeafLabel(rng))
	qtype := randRRType(rng)
	qclass := uint16(dnswire.ClassIN)

	query := dnswire.Message{
		Header:    dnswire.Header{ID: uint16(rng.Intn(1 << 16)), Flags: dnswire.RDFlag},
		Questions: []dnswire.Question{{Name: qname, Type: qtype, Class: qclass}},
	}

	resp := dnswire.Message{
		Header:    dnswire.Header{ID: query.Header.ID, Flags: dnswire.QRFlag | dnswire.RDFlag | dnswire.RAFlag},
		Questions: []dnswire.Question{{Name: qname, Type: qtype, Class: qclass}},
	}
	if qtype == uint16(dnswire.TypeA) {
		resp.Answers = []dnswire.Record{dnswire.NewA(qname, 300, randIP(rng))}
	}

	c := fuzzcase.NewCase(query)
	c.Responses = []fuzzcase.ScriptedResponse{{
		Match:    fuzzcase.QuestionPattern{Name: qname, Type: qtype, Class: qclass},
		Response: resp,
	}}
	return c
}

var leafLabels = []string{"a", "b", "foo", "bar", "x", "test"}

func randLeafLabel(rng *rand.Rand) string { return leafLabels[rng.Intn(len(leafLabels))] }

func randIP(rng *rand.Rand) net.IP {
	return net.IPv4(192, 0, 2, byte(1+rng.Intn(254)))
}
