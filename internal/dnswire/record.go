package dnswire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Record is a DNS resource record. RData is always the raw wire bytes of
// the record's data section: rather than a per-type parsed structure, every
// record type — known or not, well-formed or not — is represented the same
// way, because fuzz cases must be able to carry intentionally-malformed
// rdata for well-known types too (a 3-byte A record, an MX with a truncated
// exchange name, and so on). The constructor helpers below (NewA, NewMX,
// ...) build well-formed RData for callers that want it; ParseRecord never
// rejects a record for having the "wrong" length.
type Record struct {
	Name  Name
	Type  uint16
	Class uint16
	TTL   uint32
	RData []byte
}

// ParseRecord parses a resource record at *off, advancing *off past it.
// Name decompression happens for the owner name only; RData is copied
// verbatim without interpreting compression pointers that might appear
// inside it (e.g. in a CNAME's target) — callers that need the target name
// decode it themselves via DecodeName against the original message, since
// rdata-internal compression pointers are relative to the whole message.
func ParseRecord(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Record{}, err
	}
	if *off+10 > len(msg) {
		return Record{}, fmt.Errorf("%w: unexpected EOF while reading record header", ErrWireError)
	}
	rrType := binary.BigEndian.Uint16(msg[*off : *off+2])
	rrClass := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := binary.BigEndian.Uint16(msg[*off+8 : *off+10])
	*off += 10

	if *off+int(rdlen) > len(msg) {
		return Record{}, fmt.Errorf("%w: unexpected EOF while reading record rdata", ErrWireError)
	}
	rdata := make([]byte, rdlen)
	copy(rdata, msg[*off:*off+int(rdlen)])
	*off += int(rdlen)

	return Record{Name: name, Type: rrType, Class: rrClass, TTL: ttl, RData: rdata}, nil
}

// Marshal serializes the record to wire format. The OPT pseudo-record's
// NAME is always root regardless of rr.Name, per RFC 6891 §6.1.2.
func (rr Record) Marshal() ([]byte, error) {
	var nameWire []byte
	if RecordType(rr.Type) == TypeOPT {
		nameWire = []byte{0}
	} else {
		b, err := EncodeName(rr.Name)
		if err != nil {
			return nil, err
		}
		nameWire = b
	}

	out := make([]byte, 0, len(nameWire)+10+len(rr.RData))
	out = append(out, nameWire...)
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], rr.Type)
	binary.BigEndian.PutUint16(fixed[2:4], rr.Class)
	binary.BigEndian.PutUint32(fixed[4:8], rr.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rr.RData)))
	out = append(out, fixed...)
	out = append(out, rr.RData...)
	return out, nil
}

// IPv4 returns the address carried by an A record, if rr is a well-formed
// one.
func (rr Record) IPv4() (net.IP, bool) {
	if RecordType(rr.Type) != TypeA || len(rr.RData) != 4 {
		return nil, false
	}
	return net.IPv4(rr.RData[0], rr.RData[1], rr.RData[2], rr.RData[3]), true
}

// IPv6 returns the address carried by an AAAA record, if rr is well-formed.
func (rr Record) IPv6() (net.IP, bool) {
	if RecordType(rr.Type) != TypeAAAA || len(rr.RData) != 16 {
		return nil, false
	}
	return net.IP(rr.RData), true
}

// NewA builds an A record's RData from a 4-byte IPv4 address.
func NewA(name Name, ttl uint32, ip net.IP) Record {
	v4 := ip.To4()
	return Record{Name: name, Type: uint16(TypeA), Class: uint16(ClassIN), TTL: ttl, RData: append([]byte{}, v4...)}
}

// NewAAAA builds an AAAA record's RData from a 16-byte IPv6 address.
func NewAAAA(name Name, ttl uint32, ip net.IP) Record {
	v6 := ip.To16()
	return Record{Name: name, Type: uint16(TypeAAAA), Class: uint16(ClassIN), TTL: ttl, RData: append([]byte{}, v6...)}
}

// NewNameRecord builds a CNAME/NS/PTR record whose rdata is a single
// encoded name.
func NewNameRecord(rtype RecordType, name Name, ttl uint32, target Name) (Record, error) {
	rdata, err := EncodeName(target)
	if err != nil {
		return Record{}, err
	}
	return Record{Name: name, Type: uint16(rtype), Class: uint16(ClassIN), TTL: ttl, RData: rdata}, nil
}

// NewMX builds an MX record's RData (2-byte preference + encoded exchange
// name).
func NewMX(name Name, ttl uint32, preference uint16, exchange Name) (Record, error) {
	ex, err := EncodeName(exchange)
	if err != nil {
		return Record{}, err
	}
	rdata := make([]byte, 2+len(ex))
	binary.BigEndian.PutUint16(rdata[0:2], preference)
	copy(rdata[2:], ex)
	return Record{Name: name, Type: uint16(TypeMX), Class: uint16(ClassIN), TTL: ttl, RData: rdata}, nil
}

// NewTXT builds a TXT record's RData from one or more character-strings.
func NewTXT(name Name, ttl uint32, strs ...[]byte) (Record, error) {
	total := 0
	for _, s := range strs {
		if len(s) > 255 {
			return Record{}, fmt.Errorf("%w: TXT character-string cannot exceed 255 bytes", ErrWireError)
		}
		total += 1 + len(s)
	}
	rdata := make([]byte, 0, total)
	for _, s := range strs {
		rdata = append(rdata, byte(len(s)))
		rdata = append(rdata, s...)
	}
	return Record{Name: name, Type: uint16(TypeTXT), Class: uint16(ClassIN), TTL: ttl, RData: rdata}, nil
}

// NewSOA builds an SOA record's RData.
func NewSOA(name Name, ttl uint32, mname, rname Name, serial, refresh, retry, expire, minimum uint32) (Record, error) {
	mn, err := EncodeName(mname)
	if err != nil {
		return Record{}, err
	}
	rn, err := EncodeName(rname)
	if err != nil {
		return Record{}, err
	}
	rdata := make([]byte, 0, len(mn)+len(rn)+20)
	rdata = append(rdata, mn...)
	rdata = append(rdata, rn...)
	tail := make([]byte, 20)
	binary.BigEndian.PutUint32(tail[0:4], serial)
	binary.BigEndian.PutUint32(tail[4:8], refresh)
	binary.BigEndian.PutUint32(tail[8:12], retry)
	binary.BigEndian.PutUint32(tail[12:16], expire)
	binary.BigEndian.PutUint32(tail[16:20], minimum)
	rdata = append(rdata, tail...)
	return Record{Name: name, Type: uint16(TypeSOA), Class: uint16(ClassIN), TTL: ttl, RData: rdata}, nil
}
