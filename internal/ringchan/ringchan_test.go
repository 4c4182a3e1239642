package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannelOverwritesOldest(t *testing.T) {
	rc := New[int](3)

	for i := 0; i < 5; i++ {
		rc.Send(i)
	}

	assert.Equal(t, 3, rc.Len())
	assert.Equal(t, 3, rc.Cap())

	rc.Close()
	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got, "MUST keep the newest values")

	written, overwritten := rc.Stats()
	assert.Equal(t, int64(5), written)
	assert.Equal(t, int64(2), overwritten)
}

func TestRingChannelTrySend(t *testing.T) {
	rc := New[string](1)
	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"))
	assert.Equal(t, "a", <-rc.C())
}

func TestRingChannelReportsDrops(t *testing.T) {
	rc := New[int](1)
	assert.False(t, rc.Send(1))
	assert.True(t, rc.Send(2))
	assert.Equal(t, 2, <-rc.C())
}

func TestRingChannelConcurrentProducers(t *testing.T) {
	rc := New[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 8, rc.Len())
	written, overwritten := rc.Stats()
	assert.Equal(t, int64(400), written)
	assert.Equal(t, int64(392), overwritten)
}

func TestNewPanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
