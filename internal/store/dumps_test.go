package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/resolvfuzz/internal/differ"
	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
)

func TestDumperCreatesLayout(t *testing.T) {
	root := t.TempDir()
	_, err := NewDumper(root)
	require.NoError(t, err)

	for _, sub := range []string{"diffs", "corpus", "coverage", "stats"} {
		info, err := os.Stat(filepath.Join(root, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func nameOf(labels ...string) dnswire.Name {
	ls := make([][]byte, len(labels))
	for i, l := range labels {
		ls[i] = []byte(l)
	}
	return dnswire.Name{Labels: ls}
}

func TestDumpDiffWritesCaseAndReport(t *testing.T) {
	root := t.TempDir()
	d, err := NewDumper(root)
	require.NoError(t, err)

	c := fuzzcase.Case{
		ID: uuid.New(),
		ClientQuery: dnswire.Message{
			Header:    dnswire.Header{ID: 7},
			Questions: []dnswire.Question{{Name: nameOf("0000", "fuzz"), Type: 1, Class: 1}},
		},
	}
	diffs := []differ.DiffItem{{Path: ".header.response_code", ValueA: 0, ValueB: 2, Category: differ.CategoryStructuralDifference}}

	require.NoError(t, d.DumpDiff("fp-abc", c, "bind", "unbound", diffs))

	casePath := filepath.Join(root, "diffs", "fp-abc", "case.postcard")
	raw, err := os.ReadFile(casePath)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	decoded, err := fuzzcase.Decode(raw)
	require.NoError(t, err)
	require.Len(t, decoded.Cases, 1)
	assert.Equal(t, c.ID, decoded.Cases[0].ID)

	report, err := os.ReadFile(filepath.Join(root, "diffs", "fp-abc", "report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "StructuralDifference")
	assert.Contains(t, string(report), "question: 0000.fuzz. IN A")
}

func TestDumpAndLoadBaseline(t *testing.T) {
	root := t.TempDir()
	d, err := NewDumper(root)
	require.NoError(t, err)

	_, ok, err := d.LoadBaseline("bind")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.DumpBaseline("bind", []byte{1, 2, 3}))
	raw, ok, err := d.LoadBaseline("bind")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, raw)
}

func TestDumpAndLoadStats(t *testing.T) {
	root := t.TempDir()
	d, err := NewDumper(root)
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0).UTC()
	snap := StatsSnapshot{
		RoundsRun:  3,
		TotalDiffs: 1,
		ResolverStats: map[string]ResolverRecord{
			"bind": {CasesRun: 10, CorpusAdds: 2},
		},
	}
	require.NoError(t, d.DumpStats(ts, snap))

	loaded, err := LoadStats(filepath.Join(root, "stats", "1700000000.json"))
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.RoundsRun)
	assert.Equal(t, 10, loaded.ResolverStats["bind"].CasesRun)
}
