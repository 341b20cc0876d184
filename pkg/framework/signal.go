package framework

// Signal is a level-style wake-up shared between a producer and a
// waiting task. Raises coalesce: several Raise calls before the waiter
// runs produce a single wake-up, and a wake-up may arrive with nothing
// left to do. Waiters must re-check their actual condition after every
// wake-up.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise wakes one waiter. It never blocks.
func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the chan to wait on.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Clear drops a pending wake-up, if any.
func (s *Signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}
