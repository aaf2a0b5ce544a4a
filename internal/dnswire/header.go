package dnswire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of a DNS header in bytes (RFC 1035 §4.1.1).
const HeaderSize = 12

// Flag bit masks within Header.Flags.
//
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|QR|   Opcode  |AA|TC|RD|RA| Z|AD|CD|   RCODE   |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	 15 14 13 12 11 10  9  8  7  6  5  4  3  2  1  0
const (
	QRFlag     uint16 = 0x8000
	OpcodeMask uint16 = 0x7800
	AAFlag     uint16 = 0x0400
	TCFlag     uint16 = 0x0200
	RDFlag     uint16 = 0x0100
	RAFlag     uint16 = 0x0080
	ZFlag      uint16 = 0x0040
	ADFlag     uint16 = 0x0020
	CDFlag     uint16 = 0x0010
	RCodeMask  uint16 = 0x000F
)

// Header is a DNS message header. Every bit of Flags is preserved as-is,
// including reserved bits a well-formed resolver would never set: the fuzzer
// needs to be able to construct and observe exactly those cases.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// QR reports the query/response bit.
func (h Header) QR() bool { return h.Flags&QRFlag != 0 }

// Opcode extracts the 4-bit opcode (bits 14-11).
func (h Header) Opcode() uint16 { return (h.Flags & OpcodeMask) >> 11 }

// AA, TC, RD, RA, Z, AD, CD report their respective single-bit flags.
func (h Header) AA() bool { return h.Flags&AAFlag != 0 }
func (h Header) TC() bool { return h.Flags&TCFlag != 0 }
func (h Header) RD() bool { return h.Flags&RDFlag != 0 }
func (h Header) RA() bool { return h.Flags&RAFlag != 0 }
func (h Header) Z() bool  { return h.Flags&ZFlag != 0 }
func (h Header) AD() bool { return h.Flags&ADFlag != 0 }
func (h Header) CD() bool { return h.Flags&CDFlag != 0 }

// RCode returns the low 4 bits of Flags, the response code absent any
// EDNS extended-RCODE contribution.
func (h Header) RCode() uint16 { return h.Flags & RCodeMask }

// WithFlag returns a copy of h with the given bit set or cleared.
func (h Header) WithFlag(mask uint16, set bool) Header {
	if set {
		h.Flags |= mask
	} else {
		h.Flags &^= mask
	}
	return h
}

// Marshal serializes the header to wire format (big-endian, 12 bytes).
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.ID)
	binary.BigEndian.PutUint16(b[2:4], h.Flags)
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
	return b
}

// ParseHeader parses a DNS header at *off, advancing *off by HeaderSize.
func ParseHeader(msg []byte, off *int) (Header, error) {
	if *off+HeaderSize > len(msg) {
		return Header{}, fmt.Errorf("%w: unexpected EOF while reading header", ErrWireError)
	}
	h := Header{
		ID:      binary.BigEndian.Uint16(msg[*off : *off+2]),
		Flags:   binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
		QDCount: binary.BigEndian.Uint16(msg[*off+4 : *off+6]),
		ANCount: binary.BigEndian.Uint16(msg[*off+6 : *off+8]),
		NSCount: binary.BigEndian.Uint16(msg[*off+8 : *off+10]),
		ARCount: binary.BigEndian.Uint16(msg[*off+10 : *off+12]),
	}
	*off += HeaderSize
	return h, nil
}

// RecordType identifies a DNS resource record type.
type RecordType uint16

// Well-known record types the authoritative stack and mutators construct.
const (
	TypeA     RecordType = 1
	TypeNS    RecordType = 2
	TypeCNAME RecordType = 5
	TypeSOA   RecordType = 6
	TypePTR   RecordType = 12
	TypeMX    RecordType = 15
	TypeTXT   RecordType = 16
	TypeAAAA  RecordType = 28
	TypeOPT   RecordType = 41
)

// RecordClass identifies a DNS resource record class.
type RecordClass uint16

// ClassIN is the only class the fuzzer's zones use; CLASS<n> is accepted and
// preserved verbatim for everything else (see mnemonics.go).
const ClassIN RecordClass = 1

// RCode is a DNS response code, 0-4095 once combined with the EDNS
// extended-RCODE bits (RFC 6891 §6.1.3).
type RCode uint16

// Base RCODE values (the 4-bit field before any EDNS extension).
const (
	RCodeNoError  RCode = 0
	RCodeFormErr  RCode = 1
	RCodeServFail RCode = 2
	RCodeNXDomain RCode = 3
	RCodeNotImp   RCode = 4
	RCodeRefused  RCode = 5
)

// ExtendedRCode combines the header's 4-bit RCODE with an OPT record's
// 8-bit extension into the 12-bit value RFC 6891 describes.
func ExtendedRCode(headerRCode uint16, optExtRCode uint8) RCode {
	return RCode(uint16(optExtRCode)<<4 | (headerRCode & 0xF))
}
