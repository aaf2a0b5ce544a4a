package dnswire

import "encoding/binary"

// EDNS UDP payload sizes (RFC 6891).
const (
	DefaultUDPPayloadSize     = 512
	EDNSDefaultUDPPayloadSize = 1232
	EDNSMaxUDPPayloadSize     = 4096
	EDNSMinUDPPayloadSize     = 512
)

const ednsOptionHeaderLen = 4

// EDNSOption is a single option carried in an OPT record's RDATA.
type EDNSOption struct {
	Code uint16
	Data []byte
}

// Marshal serializes an EDNS option.
func (o EDNSOption) Marshal() []byte {
	b := make([]byte, 4+len(o.Data))
	binary.BigEndian.PutUint16(b[0:2], o.Code)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(o.Data)))
	copy(b[4:], o.Data)
	return b
}

// ParseEDNSOptions extracts options from raw OPT RDATA. Unlike the
// resolver-facing codec this does not filter to an allow-list: a
// fuzz case may legitimately carry an option code no resolver recognizes,
// and the differ wants to see what each resolver under test does with it.
// Parsing stops (without error) at the first truncated option, leaving
// whatever trailing garbage there was unparsed rather than failing the
// whole message.
func ParseEDNSOptions(rdata []byte) []EDNSOption {
	opts := make([]EDNSOption, 0, 2)
	for i := 0; i < len(rdata); {
		if len(rdata)-i < ednsOptionHeaderLen {
			break
		}
		code := binary.BigEndian.Uint16(rdata[i : i+2])
		ln := int(binary.BigEndian.Uint16(rdata[i+2 : i+4]))
		i += ednsOptionHeaderLen
		if i+ln > len(rdata) {
			break
		}
		data := make([]byte, ln)
		copy(data, rdata[i:i+ln])
		opts = append(opts, EDNSOption{Code: code, Data: data})
		i += ln
	}
	return opts
}

// MarshalEDNSOptions serializes a list of EDNS options back to RDATA bytes.
func MarshalEDNSOptions(opts []EDNSOption) []byte {
	if len(opts) == 0 {
		return nil
	}
	size := 0
	for _, o := range opts {
		size += ednsOptionHeaderLen + len(o.Data)
	}
	out := make([]byte, 0, size)
	for _, o := range opts {
		out = append(out, o.Marshal()...)
	}
	return out
}

// OPTRecord is the decoded form of an EDNS OPT pseudo-record (RFC 6891
// §6.1). The TTL field's non-standard packing (extended RCODE, version, DO
// flag) follows the RFC layout exactly, since the wire format is
// standards-fixed.
//
//	+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+
//	|         EXTENDED-RCODE        |            VERSION            |
//	+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+
//	| DO|                    Z (reserved)                           |
//	+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+---+
type OPTRecord struct {
	UDPPayloadSize uint16
	ExtendedRCode  uint8
	Version        uint8
	DNSSECOk       bool
	Z              uint16 // raw reserved bits, preserved for malformed-message round-tripping
	Options        []EDNSOption
}

// CreateOPT builds an OPT record advertising udpPayloadSize.
func CreateOPT(udpPayloadSize uint16) OPTRecord {
	return OPTRecord{UDPPayloadSize: udpPayloadSize}
}

// ToRecord serializes o as the Record it corresponds to (root name, type 41,
// class = UDP payload size).
func (o OPTRecord) ToRecord() Record {
	ttl := packOPTTTL(o.ExtendedRCode, o.Version, o.DNSSECOk, o.Z)
	return Record{
		Name:  Root,
		Type:  uint16(TypeOPT),
		Class: o.UDPPayloadSize,
		TTL:   ttl,
		RData: MarshalEDNSOptions(o.Options),
	}
}

func packOPTTTL(extRCode, version uint8, dnssecOk bool, z uint16) uint32 {
	ttl := uint32(extRCode)<<24 | uint32(version)<<16
	if dnssecOk {
		ttl |= 1 << 15
	}
	ttl |= uint32(z & 0x7FFF)
	return ttl
}

// ExtractOPT finds the first OPT record among additionals and decodes it.
// Returns nil if none is present. A message may legitimately (if invalidly)
// carry more than one OPT record; differ rules that care about that inspect
// additionals directly rather than through this helper.
func ExtractOPT(additionals []Record) *OPTRecord {
	for _, r := range additionals {
		if RecordType(r.Type) != TypeOPT {
			continue
		}
		o := OPTRecord{
			UDPPayloadSize: r.Class,
			ExtendedRCode:  uint8((r.TTL >> 24) & 0xFF),
			Version:        uint8((r.TTL >> 16) & 0xFF),
			DNSSECOk:       (r.TTL>>15)&0x1 == 1,
			Z:              uint16(r.TTL & 0x7FFF),
			Options:        ParseEDNSOptions(r.RData),
		}
		return &o
	}
	return nil
}

// ClientMaxUDPSize returns the UDP payload size a client advertised via
// EDNS, or DefaultUDPPayloadSize if it sent none.
func ClientMaxUDPSize(m Message) int {
	opt := ExtractOPT(m.Additional)
	if opt == nil {
		return DefaultUDPPayloadSize
	}
	if opt.UDPPayloadSize < DefaultUDPPayloadSize {
		return DefaultUDPPayloadSize
	}
	return int(opt.UDPPayloadSize)
}

// IsTruncated reports whether a serialized message has the TC flag set.
func IsTruncated(wire []byte) bool {
	if len(wire) < 4 {
		return false
	}
	flags := binary.BigEndian.Uint16(wire[2:4])
	return flags&TCFlag != 0
}
