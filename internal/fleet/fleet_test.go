package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresPeerURL(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestPullerFetchesPeerSnapshot(t *testing.T) {
	snap := Snapshot{
		NodeID:     "peer-1",
		RoundsRun:  5,
		TotalDiffs: 2,
		ResolverStats: map[string]ResolverRecord{
			"bind": {CasesRun: 100, CorpusAdds: 10},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stats", r.URL.Path)
		json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	var imported atomic.Int64
	var lastSnap Snapshot
	p, err := New(Config{PeerURL: srv.URL, PollInterval: time.Hour}, nil,
		func(s *Snapshot) {
			imported.Add(1)
			lastSnap = *s
		},
		func() int64 { return 0 },
	)
	require.NoError(t, err)

	require.NoError(t, p.ForcePoll(context.Background()))
	assert.Equal(t, int64(1), imported.Load())
	assert.Equal(t, "peer-1", lastSnap.NodeID)
	assert.Equal(t, int64(5), p.Status().LastRounds)
}

func TestPullerSkipsAlreadySeenRounds(t *testing.T) {
	snap := Snapshot{NodeID: "peer-1", RoundsRun: 3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	var imported atomic.Int64
	p, err := New(Config{PeerURL: srv.URL, PollInterval: time.Hour}, nil,
		func(s *Snapshot) { imported.Add(1) },
		func() int64 { return 10 },
	)
	require.NoError(t, err)

	require.NoError(t, p.ForcePoll(context.Background()))
	assert.Zero(t, imported.Load())
}

func TestPullerRecordsFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(Config{PeerURL: srv.URL, PollInterval: time.Hour}, nil, nil, nil)
	require.NoError(t, err)

	err = p.ForcePoll(context.Background())
	assert.Error(t, err)
	assert.NotEmpty(t, p.Status().LastPollError)
	assert.Equal(t, int64(1), p.Status().ErrorCount)
}

func TestStartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Snapshot{NodeID: "peer-1"})
	}))
	defer srv.Close()

	p, err := New(Config{PeerURL: srv.URL, PollInterval: 10 * time.Millisecond}, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	p.Stop()
}
