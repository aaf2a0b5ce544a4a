package harness

import (
	"time"

	"github.com/google/uuid"

	"github.com/jroosing/resolvfuzz/internal/authstack"
	"github.com/jroosing/resolvfuzz/internal/coverage"
	"github.com/jroosing/resolvfuzz/internal/dnswire"
)

// ResourceUsage is the resolver subprocess's resource footprint sampled
// at COVERAGE_READ time, a cheap additional oracle for memory-exhaustion
// denial-of-service primitives.
type ResourceUsage struct {
	RSSBytes   uint64
	CPUPercent float64
}

// FuzzResult is one resolver's observed behavior on one case.
type FuzzResult struct {
	ResolverID string
	CaseID     uuid.UUID

	// Response is the first datagram the resolver sent back matching the
	// client query's transaction id, or nil if none arrived before the
	// deadline.
	Response *dnswire.Message

	// FuzzeeQueries is every datagram the resolver sent toward the
	// authoritative stack while resolving the case, in arrival order.
	FuzzeeQueries []authstack.Exchange

	// CacheCheckResponses holds, for each of the case's CacheChecks in
	// order, the resolver's reply (nil if none arrived).
	CacheCheckResponses []*dnswire.Message

	CoverageDelta coverage.Bitmap
	WallClock     time.Duration
	Failure       FailureKind
	ResourceUsage ResourceUsage
}

// Clean reports whether this result is eligible for the differ and
// corpus: clean completion or an honored response deadline. Crashes,
// control-protocol faults, and codec errors are not.
func (r FuzzResult) Clean() bool {
	switch r.Failure {
	case FailureNone, FailureResponseDeadline:
		return true
	default:
		return false
	}
}
