package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapCachePutGet(t *testing.T) {
	c := NewMapCache()
	require.Equal(t, 0, c.Size())

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Put("a", []float32{1, 2, 3})
	require.Equal(t, 1, c.Size())

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, got)
}

func TestMapCacheReturnsCopies(t *testing.T) {
	c := NewMapCache()

	src := []float32{1, 2, 3}
	c.Put("a", src)
	src[0] = 99

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, float32(1), got[0], "cache must not alias the caller's slice")

	got[1] = 42
	again, _ := c.Get("a")
	require.Equal(t, float32(2), again[1], "returned slices must not alias cached data")
}

func TestMapCacheConcurrentAccess(t *testing.T) {
	c := NewMapCache()
	done := make(chan struct{})

	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			key := Key("ds", []int{w})
			for i := 0; i < 100; i++ {
				c.Put(key, []float32{float32(i)})
				c.Get(key)
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}
	require.Equal(t, 8, c.Size())
}

func TestKey(t *testing.T) {
	a := Key("ds-1", []int{101, 7592, 102})
	b := Key("ds-1", []int{101, 7592, 102})
	require.Equal(t, a, b)

	require.NotEqual(t, a, Key("ds-1", []int{101, 7592, 103}))
	require.NotEqual(t, a, Key("ds-1", []int{101, 7592}))
	require.NotEqual(t, a, Key("ds-2", []int{101, 7592, 102}))
}
