package dnswire

import "strconv"

var typeMnemonics = map[uint16]string{
	1: "A", 2: "NS", 5: "CNAME", 6: "SOA", 12: "PTR",
	15: "MX", 16: "TXT", 28: "AAAA", 41: "OPT",
}

var classMnemonics = map[uint16]string{
	1: "IN",
}

// TypeMnemonic returns the well-known name for a record type, or the
// RFC-3597-style fallback "TYPE<n>" / here "RTYPE<n>" (matching this
// package's naming, not the zone-file convention) for anything else. The
// store's diff reports use this so a diagnostic never has to print a
// bare integer for a type it doesn't specifically know about.
func TypeMnemonic(t uint16) string {
	if name, ok := typeMnemonics[t]; ok {
		return name
	}
	return "RTYPE" + strconv.Itoa(int(t))
}

// ClassMnemonic returns the well-known name for a record class, or the
// fallback "CLASS<n>".
func ClassMnemonic(c uint16) string {
	if name, ok := classMnemonics[c]; ok {
		return name
	}
	return "CLASS" + strconv.Itoa(int(c))
}
