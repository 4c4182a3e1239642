package livemap

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReinsertAfterDelete(t *testing.T) {
	// GOAL: a key removed and added again is live and visible
	//
	// TEST SCENARIO: Insert → Delete → Insert returns promptly → Get sees the new value

	m := New[int]()
	_, loaded := m.Insert("sys-1", 1)
	require.False(t, loaded)
	_, ok := m.Delete("sys-1")
	require.True(t, ok)

	done := make(chan bool, 1)
	go func() {
		_, loaded := m.Insert("sys-1", 2)
		done <- loaded
	}()
	select {
	case loaded := <-done:
		assert.False(t, loaded, "Insert after Delete MUST store the value")
	case <-time.After(2 * time.Second):
		t.Fatal("Insert after Delete MUST NOT block")
	}

	v, ok := m.Get("sys-1")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, m.Len())
}

func TestSetAfterDeleteIsVisible(t *testing.T) {
	m := New[string]()
	m.Set("a", "first")
	m.Delete("a")
	m.Set("a", "second")

	v, ok := m.Get("a")
	require.True(t, ok, "Set after Delete MUST be visible to Get")
	assert.Equal(t, "second", v)
}

func TestRangeSkipsRemovedKeys(t *testing.T) {
	m := New[int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Delete("a")

	var keys []string
	m.Range(func(k string, _ int) bool {
		keys = append(keys, k)
		return true
	})

	assert.Equal(t, []string{"b"}, keys)
	assert.Equal(t, 1, m.Len())
}

func TestDeleteIfMatchesValue(t *testing.T) {
	m := New[int]()
	m.Set("a", 1)

	_, ok := m.DeleteIf("a", func(v int) bool { return v == 2 })
	assert.False(t, ok, "a non-matching value MUST stay")
	_, ok = m.Get("a")
	assert.True(t, ok)

	v, ok := m.DeleteIf("a", func(v int) bool { return v == 1 })
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = m.DeleteIf("missing", nil)
	assert.False(t, ok)
}

func TestConcurrentDeleteHasOneWinner(t *testing.T) {
	m := New[int]()
	m.Set("a", 1)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.Delete("a"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one caller MUST claim the removal")
}

func TestClearReturnsLiveValues(t *testing.T) {
	m := New[int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Delete("b")
	m.Set("c", 3)

	removed := m.Clear()

	assert.ElementsMatch(t, []int{1, 3}, removed)
	assert.Zero(t, m.Len())
	m.Set("a", 4)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 4, v)
}

func TestReplaceNeedsLiveMatchingValue(t *testing.T) {
	m := New[int]()
	same := func(v int) bool { return v == 1 }

	assert.False(t, m.Replace("a", 2, same), "a missing key MUST NOT be stored")
	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	assert.True(t, m.Replace("a", 2, same))
	assert.False(t, m.Replace("a", 3, same), "a changed value MUST NOT be replaced")
	v, _ := m.Get("a")
	assert.Equal(t, 2, v)

	m.Delete("a")
	assert.False(t, m.Replace("a", 4, func(int) bool { return true }), "a removed key MUST stay removed")
}
