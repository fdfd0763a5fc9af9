// Package broadcast is a one-to-many channel with a bounded backlog.
//
// Publish never blocks. Each subscriber reads at its own pace from a shared
// ring buffer; a subscriber that falls more than the capacity behind gets a
// *LaggedError carrying the number of skipped values and then resumes from
// the oldest value still retained. Late subscribers see only values
// published after Subscribe.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Recv once the hub is closed and drained.
var ErrClosed = errors.New("broadcast: closed")

// LaggedError reports values a subscriber missed because it fell behind.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, missed %d values", e.Missed)
}

// Publisher is the sending half handed to writers.
type Publisher[T any] interface {
	Publish(v T) int
}

// Hub fans values out to subscribers.
type Hub[T any] struct {
	mu     sync.RWMutex
	ring   []T
	next   uint64 // sequence number of the next Publish
	notify chan struct{}
	closed bool

	receivers atomic.Int64
}

// New creates a hub retaining at most capacity values per subscriber backlog.
func New[T any](capacity int) *Hub[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Hub[T]{ring: make([]T, capacity), notify: make(chan struct{})}
}

// Capacity is the size of the backlog.
func (h *Hub[T]) Capacity() int { return len(h.ring) }

// Receivers is the number of open subscriptions.
func (h *Hub[T]) Receivers() int { return int(h.receivers.Load()) }

// Publish appends v and wakes waiting subscribers. It returns the number of
// subscribers at the time of the call; publishing after Close is a no-op
// returning 0.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	h.ring[h.next%uint64(len(h.ring))] = v
	h.next++
	close(h.notify)
	h.notify = make(chan struct{})
	h.mu.Unlock()
	return h.Receivers()
}

// Close wakes all subscribers. Values already published can still be read.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.notify)
}

// Subscribe starts a subscription at the current end of the stream.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.receivers.Add(1)
	return &Subscription[T]{hub: h, cursor: h.next}
}

// Subscription is a receiving endpoint. It is not safe for concurrent use
// by multiple goroutines.
type Subscription[T any] struct {
	hub    *Hub[T]
	cursor uint64
	done   bool
}

// Recv blocks until a value is available, the hub is closed or ctx ends.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, wait, err := s.poll()
		if wait == nil {
			return v, err
		}
		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryRecv returns immediately; ok is false when nothing is pending.
func (s *Subscription[T]) TryRecv() (v T, ok bool, err error) {
	v, wait, err := s.poll()
	if wait != nil {
		return v, false, nil
	}
	return v, err == nil, err
}

// poll returns a value or error, or a channel to wait on when nothing is
// pending.
func (s *Subscription[T]) poll() (T, <-chan struct{}, error) {
	var zero T
	if s.done {
		return zero, nil, ErrClosed
	}
	h := s.hub
	h.mu.RLock()
	defer h.mu.RUnlock()

	if s.cursor < h.next {
		size := uint64(len(h.ring))
		var oldest uint64
		if h.next > size {
			oldest = h.next - size
		}
		if s.cursor < oldest {
			missed := oldest - s.cursor
			s.cursor = oldest
			return zero, nil, &LaggedError{Missed: missed}
		}
		v := h.ring[s.cursor%size]
		s.cursor++
		return v, nil, nil
	}
	if h.closed {
		return zero, nil, ErrClosed
	}
	return zero, h.notify, nil
}

// Close releases the subscription.
func (s *Subscription[T]) Close() {
	if s.done {
		return
	}
	s.done = true
	s.hub.receivers.Add(-1)
}
