package fuzzcase

import (
	"encoding/binary"
	"fmt"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

// Wire layout (all multi-byte integers little-endian):
//
//	magic(4)="RFZ1" | version(u16) | seed(u64) | case_count(u32)
//	case*:
//	  uuid(16) | parent_uuid(16)
//	  client_query_len(u32) | client_query_bytes
//	  n_scripted(u32)
//	  scripted*:
//	    match_len(u32) | match_bytes  (name wire ++ type(u16) ++ class(u16))
//	    flags(u8)  (bit0=sticky, bit1=drop)
//	    resp_len(u32) | resp_bytes
//	  n_cache_checks(u32)
//	  cache_check*: len(u32) | bytes
//	  sticky_note_len(u32) | sticky_note_bytes
//
// Every DNS message is stored as its raw Marshal() output; decoding a
// message re-parses it via dnswire.ParseMessage, so the structured view is
// always rebuilt from the wire bytes that are the actual source of truth —
// a malformed message survives the round trip exactly as it was written,
// even when ParseMessage can't make full sense of it (ParseMessage fails on
// any truncated or malformed section; the decoder then keeps the message as
// Raw bytes only, with no structured fields).
var magic = [4]byte{'R', 'F', 'Z', '1'}

// migrations maps an old schema version to a function that upgrades a
// decoded Suite of that version to CurrentSchemaVersion. There are none yet
// since version 1 is the only version this build has ever written; the seam
// exists so an old suite file keeps decoding after the schema moves on,
// the same versioned-ordered-upgrade idea golang-migrate applies to SQL
// (internal/store uses the real thing for the on-disk run database).
var migrations = map[uint16]func(Suite) Suite{}

// Encode serializes a Suite to its canonical binary form.
func Encode(s Suite) ([]byte, error) {
	out := make([]byte, 0, 256+len(s.Cases)*128)
	out = append(out, magic[:]...)
	out = appendU16(out, s.SchemaVersion)
	out = appendU64(out, s.Seed)
	out = appendU32(out, uint32(len(s.Cases)))

	for _, c := range s.Cases {
		enc, err := encodeCase(c)
		if err != nil {
			return nil, fmt.Errorf("encode case %s: %w", c.ID, err)
		}
		out = append(out, enc...)
	}
	return out, nil
}

func encodeCase(c Case) ([]byte, error) {
	out := make([]byte, 0, 256)
	idBytes, err := c.ID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, idBytes...)
	parentBytes, err := c.ParentID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out = append(out, parentBytes...)

	cq, err := c.ClientQuery.Marshal()
	if err != nil {
		return nil, fmt.Errorf("client_query: %w", err)
	}
	out = appendU32(out, uint32(len(cq)))
	out = append(out, cq...)

	out = appendU32(out, uint32(len(c.Responses)))
	for i, sr := range c.Responses {
		matchBytes, err := encodePattern(sr.Match)
		if err != nil {
			return nil, fmt.Errorf("scripted[%d].match: %w", i, err)
		}
		out = appendU32(out, uint32(len(matchBytes)))
		out = append(out, matchBytes...)
		out = append(out, scriptedResponseFlags(sr))

		resp, err := sr.Response.Marshal()
		if err != nil {
			return nil, fmt.Errorf("scripted[%d].response: %w", i, err)
		}
		out = appendU32(out, uint32(len(resp)))
		out = append(out, resp...)
	}

	out = appendU32(out, uint32(len(c.CacheChecks)))
	for i, cc := range c.CacheChecks {
		b, err := cc.Marshal()
		if err != nil {
			return nil, fmt.Errorf("cache_check[%d]: %w", i, err)
		}
		out = appendU32(out, uint32(len(b)))
		out = append(out, b...)
	}

	note := []byte(c.StickyNote)
	out = appendU32(out, uint32(len(note)))
	out = append(out, note...)

	return out, nil
}

func encodePattern(p QuestionPattern) ([]byte, error) {
	nameWire, err := dnswire.EncodeName(p.Name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nameWire)+4)
	out = append(out, nameWire...)
	out = appendU16(out, p.Type)
	out = appendU16(out, p.Class)
	return out, nil
}

// Decode parses a Suite from its canonical binary form, migrating forward
// from an older schema version if a path is registered.
func Decode(data []byte) (Suite, error) {
	if len(data) < 4+2+8+4 {
		return Suite{}, fmt.Errorf("%w: truncated header", ErrCodecError)
	}
	if data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] || data[3] != magic[3] {
		return Suite{}, fmt.Errorf("%w: bad magic", ErrCodecError)
	}
	off := 4
	version := binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	seed := binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	caseCount := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	s := Suite{Seed: seed, SchemaVersion: version}
	for i := uint32(0); i < caseCount; i++ {
		c, n, err := decodeCase(data[off:])
		if err != nil {
			return Suite{}, fmt.Errorf("%w: case %d: %v", ErrCodecError, i, err)
		}
		s.Cases = append(s.Cases, c)
		off += n
	}

	if version != CurrentSchemaVersion {
		migrate, ok := migrations[version]
		if !ok {
			return Suite{}, fmt.Errorf("%w: version %d", ErrSchemaMismatch, version)
		}
		s = migrate(s)
	}
	return s, nil
}

func decodeCase(data []byte) (Case, int, error) {
	const uuidLen = 16
	if len(data) < 2*uuidLen {
		return Case{}, 0, fmt.Errorf("truncated uuid")
	}
	var c Case
	if err := c.ID.UnmarshalBinary(data[:uuidLen]); err != nil {
		return Case{}, 0, err
	}
	if err := c.ParentID.UnmarshalBinary(data[uuidLen : 2*uuidLen]); err != nil {
		return Case{}, 0, err
	}
	off := 2 * uuidLen

	cqLen, err := readU32(data, &off)
	if err != nil {
		return Case{}, 0, err
	}
	cqBytes, err := readBytes(data, &off, cqLen)
	if err != nil {
		return Case{}, 0, err
	}
	c.ClientQuery = parseMessageLenient(cqBytes)

	nScripted, err := readU32(data, &off)
	if err != nil {
		return Case{}, 0, err
	}
	for i := uint32(0); i < nScripted; i++ {
		matchLen, err := readU32(data, &off)
		if err != nil {
			return Case{}, 0, err
		}
		matchBytes, err := readBytes(data, &off, matchLen)
		if err != nil {
			return Case{}, 0, err
		}
		pattern, err := decodePattern(matchBytes)
		if err != nil {
			return Case{}, 0, fmt.Errorf("scripted[%d].match: %w", i, err)
		}

		flags, err := readByte(data, &off)
		if err != nil {
			return Case{}, 0, err
		}

		respLen, err := readU32(data, &off)
		if err != nil {
			return Case{}, 0, err
		}
		respBytes, err := readBytes(data, &off, respLen)
		if err != nil {
			return Case{}, 0, err
		}
		c.Responses = append(c.Responses, ScriptedResponse{
			Match:    pattern,
			Response: parseMessageLenient(respBytes),
			Sticky:   flags&stickyFlagBit != 0,
			Drop:     flags&dropFlagBit != 0,
		})
	}

	nCacheChecks, err := readU32(data, &off)
	if err != nil {
		return Case{}, 0, err
	}
	for i := uint32(0); i < nCacheChecks; i++ {
		l, err := readU32(data, &off)
		if err != nil {
			return Case{}, 0, err
		}
		b, err := readBytes(data, &off, l)
		if err != nil {
			return Case{}, 0, err
		}
		c.CacheChecks = append(c.CacheChecks, parseMessageLenient(b))
	}

	noteLen, err := readU32(data, &off)
	if err != nil {
		return Case{}, 0, err
	}
	noteBytes, err := readBytes(data, &off, noteLen)
	if err != nil {
		return Case{}, 0, err
	}
	c.StickyNote = string(noteBytes)

	return c, off, nil
}

// parseMessageLenient rebuilds the structured view of a stored message,
// falling back to a Raw-only Message when the bytes don't parse as DNS at
// all. The bytes themselves are never rejected: the codec's job is to move
// them faithfully, not to validate DNS semantics, so a case that encodes a
// deliberately broken message (short, with a reserved label-length bit set,
// with a bogus section count) still decodes and still marshals back to the
// exact bytes it was given.
func parseMessageLenient(raw []byte) dnswire.Message {
	m, err := dnswire.ParseMessage(raw)
	if err != nil {
		return dnswire.Message{Raw: append([]byte(nil), raw...)}
	}
	return m
}

func decodePattern(data []byte) (QuestionPattern, error) {
	off := 0
	name, err := dnswire.DecodeName(data, &off)
	if err != nil {
		return QuestionPattern{}, err
	}
	typ, err := readU16(data, &off)
	if err != nil {
		return QuestionPattern{}, err
	}
	class, err := readU16(data, &off)
	if err != nil {
		return QuestionPattern{}, err
	}
	return QuestionPattern{Name: name, Type: typ, Class: class}, nil
}

func appendU16(b []byte, v uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return append(b, buf...)
}

func appendU32(b []byte, v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return append(b, buf...)
}

func appendU64(b []byte, v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return append(b, buf...)
}

// scriptedResponseFlags bits, packed into the single flags(u8) field per
// scripted response.
const (
	stickyFlagBit byte = 1 << 0
	dropFlagBit   byte = 1 << 1
)

func scriptedResponseFlags(sr ScriptedResponse) byte {
	var b byte
	if sr.Sticky {
		b |= stickyFlagBit
	}
	if sr.Drop {
		b |= dropFlagBit
	}
	return b
}

func readU16(data []byte, off *int) (uint16, error) {
	if *off+2 > len(data) {
		return 0, fmt.Errorf("truncated u16")
	}
	v := binary.LittleEndian.Uint16(data[*off : *off+2])
	*off += 2
	return v, nil
}

func readU32(data []byte, off *int) (uint32, error) {
	if *off+4 > len(data) {
		return 0, fmt.Errorf("truncated u32")
	}
	v := binary.LittleEndian.Uint32(data[*off : *off+4])
	*off += 4
	return v, nil
}

func readByte(data []byte, off *int) (byte, error) {
	if *off+1 > len(data) {
		return 0, fmt.Errorf("truncated byte")
	}
	v := data[*off]
	*off++
	return v, nil
}

func readBytes(data []byte, off *int, n uint32) ([]byte, error) {
	if *off+int(n) > len(data) {
		return nil, fmt.Errorf("truncated field of length %d", n)
	}
	b := data[*off : *off+int(n)]
	*off += int(n)
	return append([]byte(nil), b...), nil
}
