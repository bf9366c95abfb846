// Package hashmap provides an open-addressing hash map keyed by byte
// strings. Collisions are resolved with linear probing in combination with
// Robin Hood hashing: on collision, the entry closer to its ideal slot is
// displaced in favor of the one probing from further away, which bounds the
// variance of the probe sequence lengths. Deletion uses backward shifting
// instead of tombstones. The table automatically grows when more than ~85%
// of it is in use and shrinks when less than ~40% is.
//
// Keys may contain NUL bytes; comparison is length-prefixed byte equality.
// Keys and values are stored by reference, never copied.
package hashmap

import (
	"bytes"
	"errors"
	"math"

	g "github.com/zyedidia/webproxy"
)

const (
	// maxBins caps the total table size.
	maxBins = math.MaxUint32
	// maxGrowthStep caps how many bins a single grow may add.
	maxGrowthStep = 1024 * 1024
)

// ErrTableFull signals that the table cannot grow any further.
var ErrTableFull = errors.New("hashmap: table cannot grow further")

// bin is one slot of the open-addressed array. A nil key marks an empty
// slot. The full hash is stored so that lookups can reject mismatches
// without comparing key bytes, and psl is the probe sequence length: the
// distance of the slot from the bin the key originally mapped to.
type bin[V any] struct {
	key   []byte
	value V
	hash  uint64
	psl   int
}

// Map is a Robin Hood hash map from byte strings to values of type V.
type Map[V any] struct {
	bins    []bin[V]
	length  int
	minsize int
	hasher  g.HashFn[[]byte]
}

// New returns a map with at least 'size' bins. The table never shrinks
// below this size.
func New[V any](size int) *Map[V] {
	return NewWithHasher[V](size, g.Djb2)
}

// NewWithHasher is the same as New but with a given hash function.
func NewWithHasher[V any](size int, hasher g.HashFn[[]byte]) *Map[V] {
	minsize := g.Max(size, 1)
	return &Map[V]{
		bins:    make([]bin[V], minsize),
		minsize: minsize,
		hasher:  hasher,
	}
}

// approx85 computes approximately 85% of x. Crossing this load triggers a
// grow.
func approx85(x int) int {
	return (x * 870) >> 10
}

// approx40 computes approximately 40% of x. Dropping below this load
// triggers a shrink.
func approx40(x int) int {
	return (x * 409) >> 10
}

// match reports whether the bin holds exactly this key. The stored hash and
// the key length are compared first to short-circuit the byte comparison.
func (b *bin[V]) match(hash uint64, key []byte) bool {
	return b.key != nil && b.hash == hash && len(b.key) == len(key) &&
		bytes.Equal(b.key, key)
}

// Get returns the value stored for this key, or false if there is no such
// value. Probing stops at an empty bin or once the probe distance exceeds
// the resident bin's PSL: if the key existed, it would have displaced that
// bin.
func (m *Map[V]) Get(key []byte) (V, bool) {
	hash := m.hasher(key)
	size := uint64(len(m.bins))

	for n, i := 0, hash%size; ; n, i = n+1, (i+1)%size {
		b := &m.bins[i]
		if b.match(hash, key) {
			return b.value, true
		}
		if b.key == nil || n > b.psl {
			var v V
			return v, false
		}
	}
}

// Put maps the given key to the given value. If the key already exists its
// value will be overwritten with the new value. The table grows before the
// insert once more than ~85% of it is occupied. ErrTableFull is returned
// when the table has hit its maximum size.
func (m *Map[V]) Put(key []byte, val V) error {
	if m.length > approx85(len(m.bins)) {
		grown := g.Min(len(m.bins)*2, len(m.bins)+maxGrowthStep)
		if err := m.resize(grown); err != nil {
			return err
		}
	}
	m.emplace(bin[V]{key: key, value: val, hash: m.hasher(key)})
	return nil
}

// emplace is the non-resizing insert path. It applies the Robin Hood
// displacement policy: the carried entry steals the slot of any resident
// bin closer to its ideal position (strict '>', so incumbents keep their
// slot on equal PSLs) and the displaced bin is carried forward instead.
func (m *Map[V]) emplace(entry bin[V]) {
	size := uint64(len(m.bins))

	for i := entry.hash % size; ; i = (i + 1) % size {
		b := &m.bins[i]
		if b.key == nil {
			*b = entry
			m.length++
			return
		}
		if b.match(entry.hash, entry.key) {
			b.value = entry.value
			return
		}
		if entry.psl > b.psl {
			entry, *b = *b, entry
		}
		entry.psl++
	}
}

// Remove deletes the specified key from the map and returns the removed
// value. The emptied slot is repaired by backward shifting: every displaced
// bin that follows it moves one slot back with its PSL decremented, so the
// probe sequences stay intact without tombstones.
func (m *Map[V]) Remove(key []byte) (V, bool) {
	var zero V
	hash := m.hasher(key)
	size := uint64(len(m.bins))

	var b *bin[V]
	i := hash % size
	for n := 0; ; n, i = n+1, (i+1)%size {
		b = &m.bins[i]
		if b.key == nil || n > b.psl {
			return zero, false
		}
		if b.match(hash, key) {
			break
		}
	}

	val := b.value
	m.length--

	for {
		b.key = nil
		b.hash = 0
		b.psl = 0
		b.value = zero

		i = (i + 1) % size
		next := &m.bins[i]

		// Halt at an empty bin or a bin already in its ideal slot.
		if next.key == nil || next.psl == 0 {
			break
		}
		next.psl--
		*b = *next
		b = next
	}

	if m.length > m.minsize && m.length < approx40(len(m.bins)) {
		m.resize(g.Max(len(m.bins)/2, m.minsize))
	}
	return val, true
}

// resize rebuilds the table with 'size' bins. Every occupied bin is
// re-inserted through the non-resizing path so the PSLs are reconstructed
// against the new table size.
func (m *Map[V]) resize(size int) error {
	if uint64(size) > maxBins {
		return ErrTableFull
	}
	old := m.bins
	m.bins = make([]bin[V], size)
	m.length = 0

	for i := range old {
		if old[i].key != nil {
			m.emplace(bin[V]{
				key:   old[i].key,
				value: old[i].value,
				hash:  old[i].hash,
			})
		}
	}
	return nil
}

// Size returns the number of items in the map.
func (m *Map[V]) Size() int {
	return m.length
}

// Cap returns the current number of bins.
func (m *Map[V]) Cap() int {
	return len(m.bins)
}

// Load returns the current load of the map.
func (m *Map[V]) Load() float64 {
	return float64(m.length) / float64(len(m.bins))
}

// Each calls 'fn' on every key-value pair in the map in no particular
// order. If 'fn' returns false, the iteration stops.
func (m *Map[V]) Each(fn func(key []byte, val V) bool) {
	for i := range m.bins {
		if m.bins[i].key != nil {
			if !fn(m.bins[i].key, m.bins[i].value) {
				return
			}
		}
	}
}
