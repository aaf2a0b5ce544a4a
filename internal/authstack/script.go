package authstack

import (
	"sync"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
)

// scriptCursor runs a case's ScriptedResponse list against incoming
// resolver queries: linear, in order, consume-on-use unless an entry is
// marked Sticky. Order is semantic and patterns may wildcard, so a hashed
// dictionary is the wrong structure; a slice and a per-index consumed bit
// is all this needs.
type scriptCursor struct {
	mu        sync.Mutex
	responses []fuzzcase.ScriptedResponse
	consumed  []bool
}

func newScriptCursor(responses []fuzzcase.ScriptedResponse) *scriptCursor {
	return &scriptCursor{
		responses: responses,
		consumed:  make([]bool, len(responses)),
	}
}

// match finds the first unconsumed (or sticky) entry whose pattern matches
// q, consuming it unless it's sticky. Returns ok=false when nothing
// matches, meaning the caller should synthesize a REFUSED.
func (c *scriptCursor) match(q dnswire.Question) (fuzzcase.ScriptedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sr := range c.responses {
		if c.consumed[i] {
			continue
		}
		if !sr.Match.Matches(q) {
			continue
		}
		if !sr.Sticky {
			c.consumed[i] = true
		}
		return sr, true
	}
	return fuzzcase.ScriptedResponse{}, false
}

