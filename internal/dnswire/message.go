package dnswire

import (
	"fmt"

	"github.com/jroosing/resolvfuzz/internal/helpers"
)

// Resource limits applied when parsing untrusted wire bytes, to bound
// allocation in the face of a header claiming far more records than the
// message actually carries.
const (
	MaxMessageSize  = 65535
	MaxQuestions    = 64
	MaxRRPerSection = 4096
	MaxTotalRR      = 8192
)

// Message is a DNS message. Raw holds the exact bytes the message was
// parsed from, if any; the structured fields below are a lazily-trustworthy
// view derived from those bytes. Marshal always prefers Raw when present, so
// a message round-trips byte-for-byte even when it is malformed in ways the
// structured fields cannot represent (a bogus section count, trailing
// garbage, a label with reserved high bits). Messages built programmatically
// (no Raw) marshal from the structured fields instead.
type Message struct {
	Raw []byte

	Header     Header
	Questions  []Question
	Answers    []Record
	Authority  []Record
	Additional []Record
}

// Marshal returns the wire bytes for m.
func (m Message) Marshal() ([]byte, error) {
	if m.Raw != nil {
		return m.Raw, nil
	}
	return m.marshalStructured()
}

func (m Message) marshalStructured() ([]byte, error) {
	h := Header{
		ID:      m.Header.ID,
		Flags:   m.Header.Flags,
		// Mutators can hand marshalStructured a section built with more
		// than 65535 entries; clamp rather than silently wrap the count.
		QDCount: helpers.ClampIntToUint16(len(m.Questions)),
		ANCount: helpers.ClampIntToUint16(len(m.Answers)),
		NSCount: helpers.ClampIntToUint16(len(m.Authority)),
		ARCount: helpers.ClampIntToUint16(len(m.Additional)),
	}
	out := make([]byte, 0, HeaderSize+len(m.Questions)*32+(len(m.Answers)+len(m.Authority)+len(m.Additional))*64)
	out = append(out, h.Marshal()...)
	for _, q := range m.Questions {
		b, err := q.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	for _, section := range [][]Record{m.Answers, m.Authority, m.Additional} {
		for _, rr := range section {
			b, err := rr.Marshal()
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
	}
	return out, nil
}

// ParseMessage parses msg into a structured Message, retaining msg as Raw so
// the original bytes are always recoverable regardless of how well the
// structured fields captured them. Section counts are capped at the limits
// above to avoid allocating ahead of what the message can actually contain;
// parsing still fails outright on truncated or otherwise malformed wire
// bytes, since the differ needs to see that failure, not a silently
// shortened record list.
func ParseMessage(msg []byte) (Message, error) {
	if len(msg) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: message too large (%d bytes)", ErrWireError, len(msg))
	}
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Message{}, err
	}

	m := Message{Raw: append([]byte(nil), msg...), Header: h}

	m.Questions = make([]Question, 0, capCount(h.QDCount, MaxQuestions))
	for range int(h.QDCount) {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Message{}, err
		}
		m.Questions = append(m.Questions, q)
	}
	m.Answers, off, err = parseRRSection(msg, off, h.ANCount)
	if err != nil {
		return Message{}, err
	}
	m.Authority, off, err = parseRRSection(msg, off, h.NSCount)
	if err != nil {
		return Message{}, err
	}
	m.Additional, _, err = parseRRSection(msg, off, h.ARCount)
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func parseRRSection(msg []byte, off int, count uint16) ([]Record, int, error) {
	rrs := make([]Record, 0, capCount(count, MaxRRPerSection))
	for range int(count) {
		rr, err := ParseRecord(msg, &off)
		if err != nil {
			return nil, off, err
		}
		rrs = append(rrs, rr)
	}
	return rrs, off, nil
}

func capCount(count uint16, limit int) int {
	if int(count) > limit {
		return limit
	}
	return int(count)
}

// BuildErrorResponse constructs a structured error response to req: it
// preserves the transaction ID and RD flag, sets QR, echoes the question
// section, and carries no records. Used by the authoritative stack and the
// harness when a scripted reply is absent or a query cannot be answered.
func BuildErrorResponse(req Message, rcode uint16) Message {
	flags := QRFlag
	flags |= req.Header.Flags & RDFlag
	flags = (flags &^ RCodeMask) | (rcode & RCodeMask)

	return Message{
		Header: Header{
			ID:      req.Header.ID,
			Flags:   flags,
			QDCount: uint16(len(req.Questions)),
		},
		Questions: req.Questions,
	}
}

// SetFlagsRCode rewrites the low 4 bits of flags to rcode, leaving every
// other bit untouched. Useful when a mutator wants to corrupt only the
// response code of an otherwise well-formed message.
func SetFlagsRCode(flags uint16, rcode uint16) uint16 {
	return (flags &^ RCodeMask) | (rcode & RCodeMask)
}

// Summary renders the message's header one-per-line report style, for
// diff reports and debug logging.
func (m Message) Summary() string {
	opcode, rcode := opcodeAndRCode(m.Header.Flags)
	return fmt.Sprintf("id=%#04x opcode=%d rcode=%d flags=[%s] qd=%d an=%d ns=%d ar=%d",
		m.Header.ID, opcode, rcode, headerFlagsString(m.Header.Flags),
		m.Header.QDCount, m.Header.ANCount, m.Header.NSCount, m.Header.ARCount)
}

// headerFlagsString renders the set flag bits for logging, in the fixed
// order QR/AA/TC/RD/RA/Z/AD/CD.
func headerFlagsString(flags uint16) string {
	names := []struct {
		mask uint16
		name string
	}{
		{QRFlag, "QR"}, {AAFlag, "AA"}, {TCFlag, "TC"}, {RDFlag, "RD"},
		{RAFlag, "RA"}, {ZFlag, "Z"}, {ADFlag, "AD"}, {CDFlag, "CD"},
	}
	out := make([]byte, 0, 24)
	for _, n := range names {
		if flags&n.mask != 0 {
			if len(out) > 0 {
				out = append(out, ',')
			}
			out = append(out, n.name...)
		}
	}
	return string(out)
}

// opcodeAndRCode is a small helper used by logging call sites that want both
// values without repeating the bit math.
func opcodeAndRCode(flags uint16) (opcode uint16, rcode uint16) {
	return (flags & OpcodeMask) >> 11, flags & RCodeMask
}
