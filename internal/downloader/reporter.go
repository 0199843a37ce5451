package downloader

import "sync"

// Reporter publishes transfer events.
type Reporter interface {
	Report(Event) bool
}

// Stream is the event side of a Handle. It implements Reporter for the
// transfer goroutine and Handle for the consumer, and enforces the abort
// guarantee: after Abort returns, Report delivers nothing.
type Stream struct {
	ch      chan Event
	aborted chan struct{}
	onAbort func()

	mu      sync.Mutex
	stopped bool
	once    sync.Once
}

var (
	_ Handle   = (*Stream)(nil)
	_ Reporter = (*Stream)(nil)
)

// NewStream creates a stream with the given buffer. onAbort, if set, runs
// once when Abort is first called, typically to cancel the transfer context.
func NewStream(buffer int, onAbort func()) *Stream {
	return &Stream{ch: make(chan Event, buffer), aborted: make(chan struct{}), onAbort: onAbort}
}

func (s *Stream) Events() <-chan Event { return s.ch }

// Aborted is closed once Abort has been requested.
func (s *Stream) Aborted() <-chan struct{} { return s.aborted }

// Report delivers e unless the stream was aborted or closed. It blocks
// while the buffer is full and reports whether e was delivered.
func (s *Stream) Report(e Event) bool {
	if s == nil {
		return false
	}
	select {
	case <-s.aborted:
		return false
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.ch <- e:
		return true
	case <-s.aborted:
		return false
	}
}

// Abort stops delivery and closes the event channel.
func (s *Stream) Abort() {
	s.once.Do(func() {
		close(s.aborted)
		if s.onAbort != nil {
			s.onAbort()
		}
	})
	s.Close()
}

// Close ends the stream after the terminal event has been reported.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.ch)
	}
}
