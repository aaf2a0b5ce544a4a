package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageMarshalPrefersRaw(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	m := Message{Raw: raw, Header: Header{ID: 0x1111}}
	out, err := m.Marshal()
	require.NoError(t, err)
	assert.Equal(t, raw, out, "a parsed message must marshal back to its exact original bytes")
}

func TestMessageStructuredRoundTrip(t *testing.T) {
	q := Question{Name: mustName("example", "com"), Type: uint16(TypeA), Class: uint16(ClassIN)}
	m := Message{
		Header:    Header{ID: 0x55, Flags: QRFlag | RDFlag},
		Questions: []Question{q},
		Answers:   []Record{NewA(q.Name, 60, []byte{192, 0, 2, 1})},
	}

	wire, err := m.Marshal()
	require.NoError(t, err)

	parsed, err := ParseMessage(wire)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x55), parsed.Header.ID)
	require.Len(t, parsed.Questions, 1)
	assert.True(t, parsed.Questions[0].Name.Equal(q.Name))
	require.Len(t, parsed.Answers, 1)
	ip, ok := parsed.Answers[0].IPv4()
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", ip.String())
}

func TestParseMessageErrorsOnMalformedStructure(t *testing.T) {
	// Header claims one answer but the message has none: ParseRecord will
	// fail, and the caller is expected to fall back to Raw-only handling.
	h := Header{ID: 1, QDCount: 0, ANCount: 1}
	wire := h.Marshal()

	_, err := ParseMessage(wire)
	assert.Error(t, err)
}

func TestBuildErrorResponsePreservesIDAndRD(t *testing.T) {
	req := Message{
		Header:    Header{ID: 0x42, Flags: RDFlag},
		Questions: []Question{{Name: mustName("x"), Type: 1, Class: 1}},
	}
	resp := BuildErrorResponse(req, uint16(RCodeServFail))
	assert.Equal(t, uint16(0x42), resp.Header.ID)
	assert.True(t, resp.Header.QR())
	assert.True(t, resp.Header.RD())
	assert.Equal(t, uint16(RCodeServFail), resp.Header.RCode())
	assert.Equal(t, req.Questions, resp.Questions)
}
