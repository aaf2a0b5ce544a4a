package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

func TestGenerateCaseTargetsItsSlot(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := generateCase(rng, 42)

	assert.Len(t, c.ClientQuery.Questions, 1)
	q := c.ClientQuery.Questions[0]
	assert.Equal(t, "0042", string(q.Name.Labels[1]))
	assert.Equal(t, "fuzz", string(q.Name.Labels[2]))

	assert.Len(t, c.Responses, 1)
	assert.True(t, c.Responses[0].Match.Matches(q))
}

func TestFuzzNameZeroPads(t *testing.T) {
	n := fuzzName(7, "leaf")
	assert.Equal(t, "0007", string(n.Labels[1]))
}

func TestGenerateCaseAnswersAQuestionsWithA(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		c := generateCase(rng, uint32(i))
		q := c.ClientQuery.Questions[0]
		if q.Type != uint16(dnswire.TypeA) {
			continue
		}
		assert.Len(t, c.Responses[0].Response.Answers, 1)
		return
	}
}
