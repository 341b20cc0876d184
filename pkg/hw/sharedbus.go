package hw

import "sync"

// Priority orders the users of a SharedBus.
type Priority int

// Bus users, lowest priority first.
const (
	PriorityStorage Priority = iota
	PriorityPacket

	numPriorities
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityStorage:
		return "storage"
	case PriorityPacket:
		return "packet"
	}
	return "unknown"
}

// SharedBus arbitrates a serial bus shared between the packet link and
// the storage device. When the bus is released, a waiting user with a
// higher priority always goes first.
type SharedBus struct {
	lock    sync.Mutex
	cond    *sync.Cond
	busy    bool
	holder  Priority
	waiting [numPriorities]int
}

// NewSharedBus creates a SharedBus.
func NewSharedBus() *SharedBus {
	b := &SharedBus{}
	b.cond = sync.NewCond(&b.lock)
	return b
}

// Acquire blocks until the bus is granted at the priority and returns
// the func releasing it.
func (b *SharedBus) Acquire(pri Priority) (release func()) {
	if pri < 0 || pri >= numPriorities {
		panic("hw: invalid bus priority")
	}
	b.lock.Lock()
	b.waiting[pri]++
	for b.busy || b.outranked(pri) {
		b.cond.Wait()
	}
	b.waiting[pri]--
	b.busy, b.holder = true, pri
	b.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(b.release)
	}
}

// TryAcquire grants the bus only if it is free and nobody with a
// higher priority is waiting.
func (b *SharedBus) TryAcquire(pri Priority) (release func(), ok bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.busy || b.outranked(pri) {
		return nil, false
	}
	b.busy, b.holder = true, pri
	var once sync.Once
	return func() { once.Do(b.release) }, true
}

// Holder returns the priority currently holding the bus.
func (b *SharedBus) Holder() (Priority, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.holder, b.busy
}

func (b *SharedBus) outranked(pri Priority) bool {
	for p := pri + 1; p < numPriorities; p++ {
		if b.waiting[p] > 0 {
			return true
		}
	}
	return false
}

func (b *SharedBus) release() {
	b.lock.Lock()
	b.busy = false
	b.lock.Unlock()
	b.cond.Broadcast()
}
