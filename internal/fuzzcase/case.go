package fuzzcase

import (
	"github.com/google/uuid"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

// MatchAnyType and MatchAnyClass are sentinel values a QuestionPattern uses
// to mean "match any record type/class here" — 0xFFFF is not assigned to
// any real RR type or class, so it's safe as a wildcard marker on the wire.
const (
	MatchAnyType  uint16 = 0xFFFF
	MatchAnyClass uint16 = 0xFFFF
)

// QuestionPattern is the left-hand side of a ScriptedResponse: a question
// shape a resolver-emitted query must match for the paired response to be
// eligible. Name must match exactly (per dnswire.Name.Equal); Type/Class may
// be wildcarded.
type QuestionPattern struct {
	Name  dnswire.Name
	Type  uint16
	Class uint16
}

// Matches reports whether q satisfies the pattern.
func (p QuestionPattern) Matches(q dnswire.Question) bool {
	if !p.Name.Equal(q.Name) {
		return false
	}
	if p.Type != MatchAnyType && p.Type != q.Type {
		return false
	}
	if p.Class != MatchAnyClass && p.Class != q.Class {
		return false
	}
	return true
}

// ScriptedResponse pairs a QuestionPattern with the DnsMessage the
// authoritative stack replies with when a resolver query matches it.
//
// Sticky defaults to false: the entry is consumed on first use. A suite
// that needs the entry to remain available for repeated matches sets
// Sticky explicitly; generators and mutators never set it themselves.
//
// Drop means the matched query gets no reply datagram at all. This can't be
// represented by an empty Response (an empty, non-nil Response.Raw is
// indistinguishable from an absent one once it's been through a codec round
// trip, since a zero-length byte slice read back from the wire format comes
// back nil), so it's its own field rather than a magic Response value.
type ScriptedResponse struct {
	Match    QuestionPattern
	Response dnswire.Message
	Sticky   bool
	Drop     bool
}

// Case is a single fuzz case: one client query plus the scripts that answer
// whatever the resolver asks the authoritative stack while resolving it.
//
// ParentID is the uuid of the corpus case this one was mutated from, or
// the zero uuid for freshly generated cases; mutation never edits a parent
// in place, it produces a new Case referencing the parent for provenance.
type Case struct {
	ID          uuid.UUID
	ParentID    uuid.UUID
	ClientQuery dnswire.Message
	Responses   []ScriptedResponse
	CacheChecks []dnswire.Message

	// StickyNote records why a response in this case is Sticky, for a
	// human reading a dumped case later. Empty when no response in this
	// case is Sticky.
	StickyNote string
}

// NewCase allocates a Case with a fresh random UUID.
func NewCase(clientQuery dnswire.Message) Case {
	return Case{ID: uuid.New(), ClientQuery: clientQuery}
}

// Clone performs the copy-on-write a mutator needs: every slice is copied
// so mutating the clone never touches the parent, which stays immutable
// once admitted to the corpus.
func (c Case) Clone() Case {
	clone := c
	clone.Responses = append([]ScriptedResponse(nil), c.Responses...)
	clone.CacheChecks = append([]dnswire.Message(nil), c.CacheChecks...)
	return clone
}
