// Package dnswire provides DNS wire-format parsing and encoding for the
// fuzzer's protocol stack.
//
// Unlike a resolver's own wire codec, this package must be able to represent
// and round-trip deliberately malformed messages: non-ASCII and embedded-NUL
// labels, truncated records, out-of-range counts, and reserved flag bits. A
// parsed Message therefore always retains the bytes it was parsed from
// (see Message.Raw); Marshal returns those bytes verbatim whenever they are
// available, and only rebuilds wire bytes from the structured fields for
// messages that were constructed programmatically.
//
// Standards referenced: RFC 1035 (core format), RFC 3596 (AAAA), RFC 6891
// (EDNS/OPT).
package dnswire

import "errors"

// ErrWireError is the sentinel wrapped by every parse/encode failure in this
// package. Wrap it with fmt.Errorf("context: %w", ErrWireError) to add detail.
var ErrWireError = errors.New("dns wire error")
