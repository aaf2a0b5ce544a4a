package authstack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
)

// registerSessionForTest installs a case session without binding the glue
// listener, so resolve() can be exercised without privileged sockets.
func registerSessionForTest(s *Stack, idx uint32, responses []fuzzcase.ScriptedResponse) *CaseSession {
	s.tree.RegisterCase(idx)
	sess := &CaseSession{
		index:   idx,
		glue:    glueAddressForCase(idx),
		cursor:  newScriptCursor(responses),
		started: time.Now(),
	}
	s.mu.Lock()
	s.sessions[idx] = sess
	s.mu.Unlock()
	return sess
}

func query(name dnswire.Name, qtype uint16) dnswire.Message {
	return dnswire.Message{
		Header:    dnswire.Header{ID: 0x4242, Flags: dnswire.RDFlag, QDCount: 1},
		Questions: []dnswire.Question{{Name: name, Type: qtype, Class: uint16(dnswire.ClassIN)}},
	}
}

func TestResolveScriptedOverlayConsumesInOrder(t *testing.T) {
	s := New(NewBaseTree(1), nil)
	name := dottedName("test.0000.fuzz.")
	registerSessionForTest(s, 0, []fuzzcase.ScriptedResponse{
		scripted(name, uint16(dnswire.TypeA), 1),
		scripted(name, uint16(dnswire.TypeA), 2),
	})

	req := query(name, uint16(dnswire.TypeA))

	reply, drop, sess := s.resolve(req)
	require.NotNil(t, sess)
	assert.False(t, drop)
	assert.Equal(t, uint16(1), reply.Header.ID)

	reply, _, _ = s.resolve(req)
	assert.Equal(t, uint16(2), reply.Header.ID)

	// Script exhausted: synthesized REFUSED, still attributed to the case.
	reply, drop, sess = s.resolve(req)
	require.NotNil(t, sess)
	assert.False(t, drop)
	assert.Equal(t, uint16(dnswire.RCodeRefused), reply.Header.RCode())
}

func TestResolveDropPolicy(t *testing.T) {
	s := New(NewBaseTree(1), nil)
	name := dottedName("gone.0001.fuzz.")
	sr := scripted(name, uint16(dnswire.TypeA), 9)
	sr.Drop = true
	registerSessionForTest(s, 1, []fuzzcase.ScriptedResponse{sr})

	_, drop, sess := s.resolve(query(name, uint16(dnswire.TypeA)))
	assert.True(t, drop)
	assert.NotNil(t, sess)
}

func TestResolveUnregisteredCaseRefused(t *testing.T) {
	s := New(NewBaseTree(1), nil)
	// The delegation exists in the tree but no session is live.
	s.tree.RegisterCase(2)

	reply, drop, _ := s.resolve(query(dottedName("x.0002.fuzz."), uint16(dnswire.TypeA)))
	assert.False(t, drop)
	assert.Equal(t, uint16(dnswire.RCodeRefused), reply.Header.RCode())
}

func TestResolveStaticTreeAnswer(t *testing.T) {
	s := New(NewBaseTree(1), nil)

	reply, drop, sess := s.resolve(query(dottedName("www.com."), uint16(dnswire.TypeA)))
	assert.False(t, drop)
	assert.Nil(t, sess)
	assert.True(t, reply.Header.AA())
	require.Len(t, reply.Answers, 1)
	assert.Equal(t, uint16(0x4242), reply.Header.ID, "replies echo the query id")
}

func TestResolveNXDomainWithSOA(t *testing.T) {
	s := New(NewBaseTree(1), nil)

	reply, _, _ := s.resolve(query(dottedName("missing.victim.net."), uint16(dnswire.TypeA)))
	assert.Equal(t, uint16(dnswire.RCodeNXDomain), reply.Header.RCode())
	require.Len(t, reply.Authority, 1)
	assert.Equal(t, uint16(dnswire.TypeSOA), reply.Authority[0].Type)
}

func TestResolveNoQuestionsFormErr(t *testing.T) {
	s := New(NewBaseTree(1), nil)

	reply, drop, _ := s.resolve(dnswire.Message{Header: dnswire.Header{ID: 5}})
	assert.False(t, drop)
	assert.Equal(t, uint16(dnswire.RCodeFormErr), reply.Header.RCode())
}

func TestResolveChaosVersionProbe(t *testing.T) {
	s := New(NewBaseTree(1), nil)

	req := dnswire.Message{
		Header:    dnswire.Header{ID: 1, QDCount: 1},
		Questions: []dnswire.Question{{Name: dottedName("version.bind."), Type: uint16(dnswire.TypeTXT), Class: classCH}},
	}
	reply, drop, sess := s.resolve(req)
	assert.False(t, drop)
	assert.Nil(t, sess)
	require.Len(t, reply.Answers, 1)
	assert.Equal(t, classCH, reply.Answers[0].Class)
}

func TestSessionLookupAndRelease(t *testing.T) {
	s := New(NewBaseTree(1), nil)
	registerSessionForTest(s, 4, nil)

	sess, err := s.Session(4)
	require.NoError(t, err)
	assert.NotNil(t, sess)

	_, err = s.Session(99)
	assert.ErrorIs(t, err, ErrUnknownCase)
}

func TestSessionQueryLogRecordsInOrderAndTruncates(t *testing.T) {
	sess := &CaseSession{started: time.Now()}
	for i := 0; i < maxSessionQueries+10; i++ {
		sess.record(nil, nil, dnswire.Message{Header: dnswire.Header{ID: uint16(i)}})
	}
	log := sess.QueryLog()
	require.Len(t, log, maxSessionQueries)
	assert.Equal(t, uint16(0), log[0].Message.Header.ID)
	assert.Equal(t, uint16(1), log[1].Message.Header.ID)
}
