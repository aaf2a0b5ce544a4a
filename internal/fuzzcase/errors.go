// Package fuzzcase defines the fuzz-case data model (FuzzCase, FuzzSuite,
// ScriptedResponse) and its binary persistence codec.
//
// Error handling convention:
// one package-level sentinel per error kind, always wrapped with
// fmt.Errorf("context: %w", sentinel) at the call site so callers can
// errors.Is against the kind without parsing strings.
package fuzzcase

import "errors"

var (
	// ErrSchemaMismatch is returned by Decode when the suite's schema
	// version has no registered migration path to the current version.
	ErrSchemaMismatch = errors.New("fuzzcase: schema mismatch")

	// ErrCodecError wraps any other malformed-input failure during Decode.
	ErrCodecError = errors.New("fuzzcase: codec error")
)
