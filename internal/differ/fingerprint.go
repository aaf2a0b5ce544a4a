package differ

import (
	"fmt"
	"hash/fnv"
)

// Fingerprint hashes diffs' ordered (category, path) tuples with FNV-1a so
// the scheduler can deduplicate repeat discoveries of the same divergence
// without storing or comparing full diff payloads. Two DiffItem slices with
// the same categories and paths in the same order hash identically
// regardless of the actual values involved, which is the point: a
// fingerprint identifies a kind of divergence, not one specific instance of
// it.
func Fingerprint(diffs []DiffItem) string {
	h := fnv.New64a()
	for _, d := range diffs {
		fmt.Fprintf(h, "%s|%s\n", d.Category, d.Path)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
