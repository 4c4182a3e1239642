// Package ringchan provides a bounded channel that overwrites its oldest
// element instead of blocking the producer.
package ringchan

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Consumers read from C like a normal channel.
//
//	rc := ringchan.New[[]byte](64)
//	rc.Send(value) // drops the oldest value when full
//	for v := range rc.C() {
//	    ...
//	}
//
// Send is safe for concurrent producers; Close must not race with Send.
type RingChannel[T any] struct {
	ch          chan T
	written     atomic.Int64
	overwritten atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return false
		default:
		}

		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			select {
			case rc.ch <- v:
				rc.written.Add(1)
				return true
			default:
				// another producer refilled the slot, retry
			}
		default:
		}
	}
}

// TrySend inserts v without overwriting. Returns false if the buffer is full.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. After this, Send panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// Stats returns how many elements were written and overwritten so far.
func (rc *RingChannel[T]) Stats() (written, overwritten int64) {
	return rc.written.Load(), rc.overwritten.Load()
}
