package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMarshal(t *testing.T) {
	h := Header{
		ID:      0x1234,
		Flags:   0x8180,
		QDCount: 1,
		ANCount: 2,
		NSCount: 3,
		ARCount: 4,
	}

	b := h.Marshal()
	assert.Len(t, b, HeaderSize)
	assert.Equal(t, []byte{0x12, 0x34}, b[0:2])
	assert.Equal(t, []byte{0x81, 0x80}, b[2:4])
	assert.Equal(t, []byte{0, 1}, b[4:6])
	assert.Equal(t, []byte{0, 2}, b[6:8])
	assert.Equal(t, []byte{0, 3}, b[8:10])
	assert.Equal(t, []byte{0, 4}, b[10:12])
}

func TestParseHeaderRoundTrip(t *testing.T) {
	original := Header{ID: 0xABCD, Flags: 0x0100, QDCount: 1}
	b := original.Marshal()

	off := 0
	parsed, err := ParseHeader(b, &off)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
	assert.Equal(t, HeaderSize, off)
}

func TestParseHeaderTooShort(t *testing.T) {
	off := 0
	_, err := ParseHeader([]byte{0x12, 0x34}, &off)
	assert.Error(t, err)
}

func TestHeaderFlagAccessors(t *testing.T) {
	h := Header{Flags: QRFlag | AAFlag | RDFlag | (uint16(RCodeServFail) & RCodeMask)}
	assert.True(t, h.QR())
	assert.True(t, h.AA())
	assert.True(t, h.RD())
	assert.False(t, h.TC())
	assert.False(t, h.RA())
	assert.Equal(t, uint16(0), h.Opcode())
	assert.Equal(t, uint16(RCodeServFail), h.RCode())
}

func TestHeaderWithFlag(t *testing.T) {
	h := Header{Flags: 0}
	h = h.WithFlag(TCFlag, true)
	assert.True(t, h.TC())
	h = h.WithFlag(TCFlag, false)
	assert.False(t, h.TC())
}

func TestExtendedRCode(t *testing.T) {
	assert.Equal(t, RCode(0x1A), ExtendedRCode(0xA, 0x1))
}
