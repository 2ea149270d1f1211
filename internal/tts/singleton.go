package tts

import "sync"

// Slot enforces the at-most-one-active-playback invariant. It is an
// injected resource, not ambient global state: every synchronizer gets
// the process-wide Slot in its constructor.
type Slot struct {
	mu     sync.Mutex
	holder string
	stop   func()
}

func NewSlot() *Slot {
	return &Slot{}
}

// Acquire installs the session as the active holder, stopping whichever
// session held the slot before. The returned release is idempotent and
// clears the slot only if the session still holds it.
func (s *Slot) Acquire(id string, stop func()) (release func()) {
	s.mu.Lock()
	prev := s.stop
	prevID := s.holder
	s.holder = id
	s.stop = stop
	s.mu.Unlock()

	if prev != nil && prevID != id {
		prev()
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.holder == id {
			s.holder = ""
			s.stop = nil
		}
	}
}

// Holder returns the active session id, empty when idle.
func (s *Slot) Holder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder
}
