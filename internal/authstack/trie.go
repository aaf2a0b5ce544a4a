package authstack

import (
	"sync"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

// suffixTrie answers "which zone cut, if any, owns this name" in O(k):
// each registered domain carries a zoneCut payload, and labels are stored
// in reverse order so the walk from the root label downward finds the
// deepest registered suffix. The same structure blocklist matchers use for
// "is this a subdomain of any blocked domain", with a payload per node
// instead of a membership bool.
type suffixTrie struct {
	root *trieNode
	mu   sync.RWMutex
}

type trieNode struct {
	children map[string]*trieNode
	cut      *zoneCut // non-nil if a zone cut is registered exactly at this node
}

// zoneCut is what the trie stores at a delegation point: the NS/glue records
// to return in the authority/additional sections, and (for the dynamic
// `NNNN.fuzz.` overlay) the case index that owns queries under this name.
type zoneCut struct {
	ns        []dnswire.Record
	glue      []dnswire.Record
	caseIndex uint32
	hasCase   bool
}

func newSuffixTrie() *suffixTrie {
	return &suffixTrie{root: newTrieNode()}
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode, 4)}
}

// add registers a zone cut at name, replacing whatever was there before.
func (t *suffixTrie) add(name dnswire.Name, cut zoneCut) {
	labels := reversedLabels(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, label := range labels {
		child, ok := node.children[label]
		if !ok {
			child = newTrieNode()
			node.children[label] = child
		}
		node = child
	}
	node.cut = &cut
}

// lookup walks name from the root label down and returns the deepest zone
// cut registered at or above name (the owner of the longest matching
// prefix), exactly the semantics a delegation-aware authoritative needs:
// a query for `www.NNNN.fuzz.` is owned by the cut at `NNNN.fuzz.`, not by
// one at `fuzz.` alone.
func (t *suffixTrie) lookup(name dnswire.Name) (zoneCut, bool) {
	labels := reversedLabels(name)

	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.root
	var best *zoneCut
	for _, label := range labels {
		child, ok := node.children[label]
		if !ok {
			break
		}
		node = child
		if node.cut != nil {
			best = node.cut
		}
	}
	if best == nil {
		return zoneCut{}, false
	}
	return *best, true
}

// remove drops whatever zone cut is registered exactly at name, if any. Used
// to release a case's overlay once its session is done.
func (t *suffixTrie) remove(name dnswire.Name) {
	labels := reversedLabels(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, label := range labels {
		child, ok := node.children[label]
		if !ok {
			return
		}
		node = child
	}
	node.cut = nil
}

// reversedLabels lowercases (ASCII-only, matching dnswire.Name.Equal) and
// reverses a name's labels for suffix-trie storage. Labels are raw,
// potentially non-UTF-8 bytes, so lowercasing is done byte-by-byte rather
// than through a rune-aware transform, which would corrupt them.
func reversedLabels(name dnswire.Name) []string {
	n := len(name.Labels)
	out := make([]string, n)
	for i, label := range name.Labels {
		lowered := make([]byte, len(label))
		for j, b := range label {
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			lowered[j] = b
		}
		out[n-1-i] = string(lowered)
	}
	return out
}
