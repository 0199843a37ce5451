// Package broadcast fans a single ordered sequence of values out to any
// number of subscribers.
//
// Publish never blocks on a slow subscriber: each subscriber owns an
// unbounded queue drained by its own pump goroutine, so every subscriber
// sees every value published after it attached, in publish order.
package broadcast

import "sync"

// Hub is safe for concurrent use. Callers that need a global order across
// publishers must serialize their Publish calls.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe attaches a new subscriber. On a closed hub the returned
// subscription is already closed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		hub:    h,
		notify: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.stop()
		close(s.out)
		return s
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	go s.pump()
	return s
}

// Publish enqueues v for every current subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		s.enqueue(v)
	}
}

// Len reports the number of attached subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close detaches every subscriber. Values already queued are still
// delivered before each subscriber's channel is closed.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = map[*Subscription[T]]struct{}{}
	h.mu.Unlock()
	for s := range subs {
		s.drainThenClose()
	}
}

func (h *Hub[T]) remove(s *Subscription[T]) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscription is one subscriber's ordered view of a Hub.
type Subscription[T any] struct {
	hub *Hub[T]

	mu       sync.Mutex
	queue    []T
	draining bool

	notify chan struct{}
	out    chan T
	done   chan struct{}
	once   sync.Once
}

// C delivers values in publish order. It is closed after Close, or after
// the hub is closed and the queue has drained.
func (s *Subscription[T]) C() <-chan T { return s.out }

// Close detaches the subscription and drops anything still queued.
func (s *Subscription[T]) Close() {
	if s == nil {
		return
	}
	s.hub.remove(s)
	s.stop()
}

func (s *Subscription[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription[T]) enqueue(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) drainThenClose() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				draining := s.draining
				s.mu.Unlock()
				if draining {
					return
				}
				break
			}
			v := s.queue[0]
			var zero T
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- v:
			case <-s.done:
				return
			}
		}
	}
}
