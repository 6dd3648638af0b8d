package common

import (
	"fmt"
	"log/slog"
)

// Assert checks a condition and panics if it is false.
//
// Use it for internal invariants (a negative lock count, a set header bit
// with no tuple behind it). Conditions that depend on input or on I/O
// return errors instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

const (
	offset64 = 14695981039346656037
	prime64  = 1099511628211
)

// Hash computes the FNV-1a 64-bit hash of the provided byte slice without allocation.
func Hash(data []byte) uint64 {
	var h uint64 = offset64
	for _, b := range data {
		h ^= uint64(b)
		h *= prime64
	}
	return h
}

// Logger returns the process logger tagged with the given component name.
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
