// Package authstack implements the in-process authoritative nameserver
// stack: a fixed base zone tree plus, per case, a scripted overlay for the
// `NNNN.fuzz.` delegated subtree.
//
// Every case runs under its own numbered subdomain so state never bleeds
// between concurrently-executing cases sharing the same listener set — the
// stack tells cases apart by the NNNN label, not by restarting itself.
package authstack

import "errors"

// ErrUnknownCase is returned by Stack.Session for a case index that has no
// registered session — the suite never allocated that index, or the session
// already finished and was released. A resolver query arriving under such a
// `NNNN.fuzz.` subdomain is answered REFUSED rather than failing with it.
var ErrUnknownCase = errors.New("authstack: unknown case index")
