package live

import "sync"

// Stream is the event channel behind a Session. One producer goroutine calls
// Emit and Finish; Abort may be called from anywhere.
type Stream struct {
	ch    chan Event
	abort chan struct{}

	abortOnce  sync.Once
	finishOnce sync.Once
}

// NewStream creates a stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	return &Stream{
		ch:    make(chan Event, buffer),
		abort: make(chan struct{}),
	}
}

// Events returns the receive side.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Emit delivers e, blocking until the consumer takes it. It returns false
// once the stream was aborted.
func (s *Stream) Emit(e Event) bool {
	select {
	case <-s.abort:
		return false
	default:
	}
	select {
	case s.ch <- e:
		return true
	case <-s.abort:
		return false
	}
}

// Finish emits an Err event when err is non-nil, then Closed, then closes
// the channel. Only the first call has an effect.
func (s *Stream) Finish(err error) {
	s.finishOnce.Do(func() {
		if err != nil {
			s.Emit(Event{Err: err})
		}
		s.Emit(Event{Closed: true})
		close(s.ch)
	})
}

// Abort unblocks the producer and makes further Emit calls no-ops. The
// producer still calls Finish to close the channel.
func (s *Stream) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

// Aborted reports whether Abort was called.
func (s *Stream) Aborted() bool {
	select {
	case <-s.abort:
		return true
	default:
		return false
	}
}
