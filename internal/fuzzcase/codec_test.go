package fuzzcase

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

func name(labels ...string) dnswire.Name {
	ls := make([][]byte, len(labels))
	for i, l := range labels {
		ls[i] = []byte(l)
	}
	return dnswire.Name{Labels: ls}
}

func sampleCase(t *testing.T) Case {
	t.Helper()
	q := dnswire.Question{Name: name("0000", "fuzz"), Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}
	clientQuery := dnswire.Message{
		Header:    dnswire.Header{ID: 0x1234, Flags: dnswire.RDFlag},
		Questions: []dnswire.Question{q},
	}
	resp := dnswire.Message{
		Header:    dnswire.Header{ID: 0x1234, Flags: dnswire.QRFlag | dnswire.RDFlag},
		Questions: []dnswire.Question{q},
		Answers:   []dnswire.Record{dnswire.NewA(q.Name, 300, []byte{192, 0, 2, 7})},
	}
	return Case{
		ID:          uuid.New(),
		ParentID:    uuid.New(),
		ClientQuery: clientQuery,
		Responses: []ScriptedResponse{
			{Match: QuestionPattern{Name: q.Name, Type: uint16(dnswire.TypeA), Class: uint16(dnswire.ClassIN)}, Response: resp},
		},
		CacheChecks: []dnswire.Message{clientQuery},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := sampleCase(t)
	s := Suite{Seed: 42, SchemaVersion: CurrentSchemaVersion, Cases: []Case{c}}

	enc, err := Encode(s)
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)

	assert.Equal(t, s.Seed, dec.Seed)
	assert.Equal(t, s.SchemaVersion, dec.SchemaVersion)
	require.Len(t, dec.Cases, 1)
	assert.Equal(t, c.ID, dec.Cases[0].ID)
	assert.Equal(t, c.ParentID, dec.Cases[0].ParentID)

	gotQuery, err := dec.Cases[0].ClientQuery.Marshal()
	require.NoError(t, err)
	wantQuery, err := c.ClientQuery.Marshal()
	require.NoError(t, err)
	assert.Equal(t, wantQuery, gotQuery, "client query must round-trip byte-for-byte")

	require.Len(t, dec.Cases[0].Responses, 1)
	assert.True(t, dec.Cases[0].Responses[0].Match.Name.Equal(c.Responses[0].Match.Name))
	assert.False(t, dec.Cases[0].Responses[0].Sticky)
}

func TestCodecRoundTripMalformedMessageSurvivesVerbatim(t *testing.T) {
	// A query with a reserved-bit label length: ParseMessage will choke on
	// the header-declared question but the raw bytes must still carry.
	garbage := []byte{
		0x00, 0x01, 0x00, 0x00, // ID
		0x00, 0x00, // flags
		0x00, 0x01, // QDCount=1
		0x00, 0x00, 0x00, 0x00,
		0x40, 'x', // reserved label-length bits (01xxxxxx)
	}
	cq := dnswire.Message{Raw: garbage}
	c := Case{ID: uuid.New(), ClientQuery: cq}
	s := Suite{SchemaVersion: CurrentSchemaVersion, Cases: []Case{c}}

	enc, err := Encode(s)
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)
	require.Len(t, dec.Cases, 1)
	got, err := dec.Cases[0].ClientQuery.Marshal()
	require.NoError(t, err)
	assert.Equal(t, garbage, got)
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode([]byte("not a suite file at all............."))
	assert.ErrorIs(t, err, ErrCodecError)
}

func TestDecodeUnknownSchemaVersion(t *testing.T) {
	s := Suite{SchemaVersion: 9999}
	enc, err := Encode(s)
	require.NoError(t, err)
	_, err = Decode(enc)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestQuestionPatternWildcards(t *testing.T) {
	p := QuestionPattern{Name: name("a", "fuzz"), Type: MatchAnyType, Class: uint16(dnswire.ClassIN)}
	q := dnswire.Question{Name: name("a", "fuzz"), Type: uint16(dnswire.TypeMX), Class: uint16(dnswire.ClassIN)}
	assert.True(t, p.Matches(q))

	wrongName := dnswire.Question{Name: name("b", "fuzz"), Type: uint16(dnswire.TypeMX), Class: uint16(dnswire.ClassIN)}
	assert.False(t, p.Matches(wrongName))
}

func TestCaseCloneIsIndependent(t *testing.T) {
	c := sampleCase(t)
	clone := c.Clone()
	clone.Responses[0].Sticky = true
	assert.False(t, c.Responses[0].Sticky, "mutating the clone must not affect the parent")
}
