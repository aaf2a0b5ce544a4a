package fuzzcase

// CurrentSchemaVersion is the schema version this build writes and reads
// natively. Decode consults migrations for anything older.
const CurrentSchemaVersion uint16 = 1

// Suite is an ordered collection of Cases executed in one fuzzing session.
// Each Case runs in its own `NNNN.fuzz.` subdomain, the index NNNN assigned
// by the Case's position in Cases.
type Suite struct {
	Seed          uint64
	SchemaVersion uint16
	Cases         []Case
}

// NewSuite builds an empty suite stamped with the current schema version.
func NewSuite(seed uint64) Suite {
	return Suite{Seed: seed, SchemaVersion: CurrentSchemaVersion}
}

// ZoneIndex returns the NNNN subdomain index a case at position i in Cases
// runs under in the `NNNN.fuzz.` delegation scheme.
func ZoneIndex(i int) uint32 {
	return uint32(i)
}
