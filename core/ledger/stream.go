package ledger

import "sync"

// Stream is a Subscription backed by an unbounded queue, so producers never
// block on a slow consumer and no event is dropped.
type Stream struct {
	kinds []EventKind
	out   chan Event

	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed bool
	done   chan struct{}
	once   sync.Once
	onStop func()
}

// NewStream starts a stream filtered on kinds. onClose, if set, runs once
// when the stream is closed.
func NewStream(onClose func(), kinds ...EventKind) *Stream {
	s := &Stream{
		kinds:  kinds,
		out:    make(chan Event),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		onStop: onClose,
	}
	go s.pump()
	return s
}

// Push enqueues e if it matches the stream filter.
func (s *Stream) Push(e Event) {
	if !Matches(s.kinds, e.Kind) {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}

// Events returns the delivery channel. It is closed after Close.
func (s *Stream) Events() <-chan Event { return s.out }

// Close stops delivery. Pending events are discarded.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		if s.onStop != nil {
			s.onStop()
		}
	})
	return nil
}
