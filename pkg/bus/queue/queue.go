// Package queue provides the bounded packet queues used by links and
// local collaborators.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	fx "github.com/robotalks/chainbus/pkg/framework"
)

// Policy decides what Put does on a full queue.
type Policy int

const (
	// RejectFull fails the Put and leaves stored entries untouched.
	RejectFull Policy = iota
	// DropOldest discards the least recently added unread entry.
	DropOldest
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	if p == DropOldest {
		return "drop-oldest"
	}
	return "reject-full"
}

// Queue is a fixed ring of packets. A ring of 2^k slots holds at most
// 2^k-1 packets: head == tail means empty.
type Queue struct {
	name   string
	policy Policy
	mask   int
	head   int
	tail   int
	slots  []packet.Packet
	lock   sync.Mutex

	dropped  uint64
	readable *fx.Signal
	writable *fx.Signal
}

// New creates a Queue with the number of slots which must be a power of two.
func New(name string, slots int, policy Policy) *Queue {
	if slots < 2 || slots&(slots-1) != 0 {
		panic(fmt.Sprintf("queue %s: slots %d is not a power of two", name, slots))
	}
	return &Queue{
		name:     name,
		policy:   policy,
		mask:     slots - 1,
		slots:    make([]packet.Packet, slots),
		readable: fx.NewSignal(),
		writable: fx.NewSignal(),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Policy returns the overflow policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Cap returns the maximum number of stored packets.
func (q *Queue) Cap() int {
	return q.mask
}

// Len returns the number of stored entries, fillers included.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return (q.head - q.tail) & q.mask
}

// Ready indicates there are entries to get.
func (q *Queue) Ready() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.head != q.tail
}

// Dropped returns the number of entries discarded by DropOldest.
func (q *Queue) Dropped() uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.dropped
}

// Readable is raised after a successful Put.
func (q *Queue) Readable() <-chan struct{} {
	return q.readable.C()
}

// Writable is raised after a successful Get on a RejectFull queue.
func (q *Queue) Writable() <-chan struct{} {
	return q.writable.C()
}

// Put copies the packet into the queue. Packets longer than
// packet.MaxPayload are refused regardless of the policy.
func (q *Queue) Put(pkt *packet.Packet) bool {
	if pkt.Length > packet.MaxPayload {
		return false
	}
	q.lock.Lock()
	next := (q.head + 1) & q.mask
	if next == q.tail {
		if q.policy == RejectFull {
			q.lock.Unlock()
			return false
		}
		q.tail = (q.tail + 1) & q.mask
		q.dropped++
	}
	q.head = next
	q.slots[next] = *pkt
	q.lock.Unlock()
	q.readable.Raise()
	return true
}

// Get copies the oldest non-filler packet out of the queue.
// Filler entries met on the way are discarded.
func (q *Queue) Get(pkt *packet.Packet) bool {
	var ok bool
	q.lock.Lock()
	for !ok && q.tail != q.head {
		q.tail = (q.tail + 1) & q.mask
		if q.slots[q.tail].Length > 0 {
			*pkt = q.slots[q.tail]
			ok = true
		}
	}
	q.lock.Unlock()
	if ok && q.policy == RejectFull {
		q.writable.Raise()
	}
	return ok
}

// PutWait retries Put after each Writable wake-up until it succeeds or
// ctx is done.
func (q *Queue) PutWait(ctx context.Context, pkt *packet.Packet) error {
	for !q.Put(pkt) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.writable.C():
		}
	}
	return nil
}

// GetWait retries Get after each Readable wake-up until it succeeds or
// ctx is done.
func (q *Queue) GetWait(ctx context.Context, pkt *packet.Packet) error {
	for !q.Get(pkt) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.readable.C():
		}
	}
	return nil
}
