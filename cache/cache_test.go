package cache_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zyedidia/webproxy/cache"
)

// keys returns the cached keys ordered from most to least recently used.
func keys(c *cache.Cache) []string {
	var ks []string
	c.Each(func(e *cache.Entry) {
		ks = append(ks, string(e.Key))
	})
	return ks
}

func TestOversizedAndEviction(t *testing.T) {
	c := cache.New(16)

	key := []byte("abc\x00")
	require.False(t, c.Insert(key, make([]byte, 17)), "larger than the cache itself")
	require.Equal(t, 0, c.Size())

	require.True(t, c.Insert(key, make([]byte, 16)))
	require.Equal(t, 16, c.Size())

	other := []byte("cba\x00")
	require.True(t, c.Insert(other, make([]byte, 16)))
	require.Equal(t, 16, c.Size())
	require.Equal(t, uint64(1), c.Evictions())

	_, ok := c.Get(key)
	require.False(t, ok, "the older entry was evicted")
	v, ok := c.Get(other)
	require.True(t, ok)
	require.Equal(t, make([]byte, 16), v)
}

func TestEvictsLeastRecent(t *testing.T) {
	c := cache.New(64)

	var ks [][]byte
	for i := 0; i < 16; i++ {
		k := []byte{byte('a' + i), byte('z' - i)}
		ks = append(ks, k)
		require.True(t, c.Insert(k, make([]byte, 10)))
		require.LessOrEqual(t, c.Size(), c.MaxSize())
	}

	// floor(64/10) entries fit; the survivors are the most recent.
	require.Equal(t, 6, c.Len())
	require.Equal(t, 60, c.Size())
	for _, k := range ks[:10] {
		_, ok := c.Get(k)
		require.False(t, ok, "key %q should have been evicted", k)
	}
	for _, k := range ks[10:] {
		_, ok := c.Get(k)
		require.True(t, ok, "key %q should have survived", k)
	}
}

func TestDuplicateInsertIsNoop(t *testing.T) {
	c := cache.New(64)

	require.True(t, c.Insert([]byte("k"), []byte("v1")))
	require.True(t, c.Insert([]byte("k"), []byte("v2")))

	v, ok := c.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v, "a duplicate insert does not replace the payload")
	require.Equal(t, 1, c.Len())
	require.Equal(t, 2, c.Size())
}

func TestRecencyOrder(t *testing.T) {
	c := cache.New(1024)

	for _, k := range []string{"a", "b", "c"} {
		require.True(t, c.Insert([]byte(k), []byte("v")))
	}
	require.Equal(t, []string{"c", "b", "a"}, keys(c))

	// A hit moves the entry to the head.
	_, ok := c.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []string{"a", "c", "b"}, keys(c))

	// A peek does not.
	_, ok = c.Peek([]byte("b"))
	require.True(t, ok)
	require.Equal(t, []string{"a", "c", "b"}, keys(c))

	// A touch does.
	require.True(t, c.Touch([]byte("b")))
	require.Equal(t, []string{"b", "a", "c"}, keys(c))
}

func TestPeekReturnsOwnedCopy(t *testing.T) {
	c := cache.New(64)
	require.True(t, c.Insert([]byte("k"), []byte("value")))

	v, ok := c.Peek([]byte("k"))
	require.True(t, ok)
	v[0] = 'X'

	v2, ok := c.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("value"), v2, "mutating the copy does not reach the cache")
}

func TestInsertCopiesBuffers(t *testing.T) {
	c := cache.New(64)
	key := []byte("k")
	val := []byte("value")
	require.True(t, c.Insert(key, val))

	key[0] = 'X'
	val[0] = 'X'

	v, ok := c.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("value"), v)
}

func TestZeroMaxSize(t *testing.T) {
	c := cache.New(0)
	require.False(t, c.Insert([]byte("k"), []byte("v")))
	require.True(t, c.Insert([]byte("k"), nil), "a zero-byte value fits a zero-byte cache")
	require.Equal(t, 0, c.Size())
	require.Equal(t, 1, c.Len())
}

func TestDelete(t *testing.T) {
	c := cache.New(64)
	require.True(t, c.Insert([]byte("a"), []byte("xx")))
	require.True(t, c.Insert([]byte("b"), []byte("yy")))

	var entry *cache.Entry
	c.Each(func(e *cache.Entry) {
		if string(e.Key) == "a" {
			entry = e
		}
	})
	require.NotNil(t, entry)

	require.True(t, c.Delete(entry))
	require.False(t, c.Delete(entry), "double delete reports false")
	require.Equal(t, 1, c.Len())
	require.Equal(t, 2, c.Size())
	_, ok := c.Get([]byte("a"))
	require.False(t, ok)
}

// TestCrossCheck drives the cache with random operations against a model
// built from a std map and a recency slice, verifying the capacity bound,
// the recency order and the map/list correspondence at every step.
func TestCrossCheck(t *testing.T) {
	const maxSize = 100

	c := cache.New(maxSize)
	model := make(map[string][]byte)
	var order []string // most recent first

	touch := func(k string) {
		for i, o := range order {
			if o == k {
				order = append(order[:i], order[i+1:]...)
				break
			}
		}
		order = append([]string{k}, order...)
	}
	evictTail := func() {
		tail := order[len(order)-1]
		order = order[:len(order)-1]
		delete(model, tail)
	}
	modelSize := func() int {
		total := 0
		for _, v := range model {
			total += len(v)
		}
		return total
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 3000; i++ {
		k := fmt.Sprintf("key-%d", rng.Intn(30))

		switch rng.Intn(3) {
		case 0:
			v := make([]byte, rng.Intn(120))
			for j := range v {
				v[j] = byte(rng.Intn(256))
			}
			ok := c.Insert([]byte(k), v)
			if _, dup := model[k]; dup {
				require.True(t, ok)
			} else if len(v) > maxSize {
				require.False(t, ok)
			} else {
				require.True(t, ok)
				model[k] = v
				for modelSize() > maxSize {
					evictTail()
				}
				touch(k)
			}
		case 1:
			v, ok := c.Get([]byte(k))
			want, wantOK := model[k]
			require.Equal(t, wantOK, ok)
			if ok {
				require.Equal(t, want, v)
				touch(k)
			}
		case 2:
			v, ok := c.Peek([]byte(k))
			want, wantOK := model[k]
			require.Equal(t, wantOK, ok)
			if ok {
				require.Equal(t, want, v)
			}
		}

		require.LessOrEqual(t, c.Size(), maxSize)
		require.Equal(t, modelSize(), c.Size())
		require.Equal(t, len(model), c.Len())
		require.Equal(t, order, keys(c), "recency order diverged at op %d", i)
	}
}

func Example() {
	c := cache.New(8)

	c.Insert([]byte("a"), []byte("1234"))
	c.Insert([]byte("b"), []byte("5678"))
	c.Get([]byte("a"))
	c.Insert([]byte("c"), []byte("9999")) // evicts b

	c.Each(func(e *cache.Entry) {
		fmt.Println(string(e.Key))
	})
	// Output:
	// c
	// a
}
