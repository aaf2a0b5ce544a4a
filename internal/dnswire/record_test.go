package dnswire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestARecordRoundTrip(t *testing.T) {
	rr := NewA(mustName("host", "example", "com"), 300, net.ParseIP("192.0.2.1"))
	wire, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(wire, &off)
	require.NoError(t, err)
	assert.Equal(t, len(wire), off)

	ip, ok := parsed.IPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", ip.String())
}

func TestRecordMalformedRDataSurvives(t *testing.T) {
	// A record with a 3-byte rdata (invalid per RFC, but must parse as data).
	rr := Record{Name: Root, Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 60, RData: []byte{1, 2, 3}}
	wire, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(wire, &off)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, parsed.RData)
	_, ok := parsed.IPv4()
	assert.False(t, ok, "malformed A record should not report a valid IPv4")
}

func TestMXRoundTrip(t *testing.T) {
	rr, err := NewMX(mustName("example", "com"), 3600, 10, mustName("mail", "example", "com"))
	require.NoError(t, err)
	wire, err := rr.Marshal()
	require.NoError(t, err)

	off := 0
	parsed, err := ParseRecord(wire, &off)
	require.NoError(t, err)
	assert.Equal(t, rr.RData, parsed.RData)
}

func TestTXTMultiString(t *testing.T) {
	rr, err := NewTXT(mustName("example", "com"), 60, []byte("hello"), []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 'h', 'e', 'l', 'l', 'o', 5, 'w', 'o', 'r', 'l', 'd'}, rr.RData)
}

func TestOPTRecordNameAlwaysRoot(t *testing.T) {
	rr := Record{Name: mustName("not", "root"), Type: uint16(TypeOPT), Class: 4096, TTL: 0}
	wire, err := rr.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte(0), wire[0], "OPT record name must serialize as root regardless of rr.Name")
}
