// Package webproxy provides the shared helpers used by the proxy's data
// structures: hash functions for byte-string keys and a few small math
// utilities. This package uses the djb2 hash for the request cache and
// FNV1a for general-purpose hashing.
package webproxy

import (
	"github.com/segmentio/fasthash/fnv1a"
)

// HashFn is a function that returns the hash of 't'.
type HashFn[T any] func(t T) uint64

// Djb2 hashes a byte string with the djb2 algorithm: seed 5381, then
// hash*33 plus each byte. Keys may contain NUL bytes; every byte
// participates.
// see: http://www.cse.yorku.ca/~oz/hash.html
func Djb2(key []byte) uint64 {
	hash := uint64(5381)
	for _, b := range key {
		hash = ((hash << 5) + hash) + uint64(b)
	}
	return hash
}

// HashString hashes a string with FNV1a.
func HashString(s string) uint64 {
	return fnv1a.HashString64(s)
}

// HashBytes hashes a byte slice with FNV1a.
func HashBytes(b []byte) uint64 {
	return fnv1a.HashBytes64(b)
}
