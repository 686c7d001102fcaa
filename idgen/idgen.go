// Package idgen makes the identifiers mailglot hands out: workflow run
// ids, ids of injected DOM elements and event log keys.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator returns a new id on every call.
type Generator func() string

// Sortable yields UUIDv7 strings, which order by creation time. Event
// log keys use it so a key range is a time range.
func Sortable() string { return uuid.Must(uuid.NewV7()).String() }

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Short yields random lowercase base-36 ids of n characters, safe to use
// inside DOM ids and CSS selectors. Bytes above the largest multiple of
// 36 are discarded so every character is equally likely.
func Short(n int) Generator {
	const limit = 256 - 256%len(base36)
	return func() string {
		out := make([]byte, 0, n)
		buf := make([]byte, n+n/4+1)
		for len(out) < n {
			rand.Read(buf)
			for _, b := range buf {
				if int(b) < limit && len(out) < n {
					out = append(out, base36[int(b)%len(base36)])
				}
			}
		}
		return string(out)
	}
}

// Prefixed tags ids from gen with a kind prefix such as "run_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}
