// Package tunnel carries a byte stream over SERIAL packets, so a node
// gets a virtual serial port to the radio end.
package tunnel

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/queue"
)

// Queue sizes and timing.
const (
	SendSlots         = 4
	RecvSlots         = 4
	DefaultFlushDelay = 20 * time.Millisecond
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("tunnel closed")

// Tunnel packs written bytes into SERIAL packets for Dest and unpacks
// received SERIAL packets for Read. A partial packet is sent when no
// more bytes arrive within FlushDelay.
type Tunnel struct {
	Local      packet.Location
	Dest       packet.Location
	FlushDelay time.Duration
	Clock      clock.Clock

	send *queue.Queue
	recv *queue.Queue

	wlock sync.Mutex
	out   packet.Packet
	outN  byte
	timer *clock.Timer

	rlock sync.Mutex
	in    packet.Packet
	inPos byte

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Tunnel sending to dest.
func New(local, dest packet.Location, clk clock.Clock) *Tunnel {
	if clk == nil {
		clk = clock.New()
	}
	return &Tunnel{
		Local:      local,
		Dest:       dest,
		FlushDelay: DefaultFlushDelay,
		Clock:      clk,
		send:       queue.New("tunnel-send", SendSlots, queue.RejectFull),
		recv:       queue.New("tunnel-recv", RecvSlots, queue.DropOldest),
		outN:       1,
		closed:     make(chan struct{}),
	}
}

// SendQueue returns the queue of packets produced by Write.
func (t *Tunnel) SendQueue() *queue.Queue {
	return t.send
}

// RecvQueue returns the queue of packets consumed by Read.
func (t *Tunnel) RecvQueue() *queue.Queue {
	return t.recv
}

// GetSendQueue takes the next packet to send.
func (t *Tunnel) GetSendQueue(pkt *packet.Packet) bool {
	return t.send.Get(pkt)
}

// PutRecvQueue implements router.Deliverer. Packets without data bytes
// are consumed without being queued, the oldest received packet is
// dropped when full.
func (t *Tunnel) PutRecvQueue(pkt *packet.Packet) bool {
	if pkt.Type() != packet.TypeSerial {
		return false
	}
	if pkt.Length < 2 {
		return true
	}
	return t.recv.Put(pkt)
}

// Write implements io.Writer. It blocks while the send queue is full.
func (t *Tunnel) Write(p []byte) (int, error) {
	return t.WriteContext(context.Background(), p)
}

// WriteContext writes like Write and gives up when ctx is done.
func (t *Tunnel) WriteContext(ctx context.Context, p []byte) (n int, err error) {
	for n < len(p) {
		if t.isClosed() {
			return n, ErrClosed
		}
		n += t.fill(p[n:])
		if n < len(p) {
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-t.closed:
				return n, ErrClosed
			case <-t.send.Writable():
			}
		}
	}
	return n, nil
}

// fill copies bytes into the pending packet and queues full packets.
func (t *Tunnel) fill(p []byte) (n int) {
	t.wlock.Lock()
	defer t.wlock.Unlock()
	for n < len(p) {
		if t.outN == packet.MaxPayload && !t.flushLocked() {
			break
		}
		if t.outN == 1 {
			t.startTimer()
		}
		t.out.Payload[t.outN] = p[n]
		t.outN++
		n++
	}
	if t.outN == packet.MaxPayload {
		t.flushLocked()
	}
	return
}

// Flush queues the pending bytes. It returns false if the send queue is full.
func (t *Tunnel) Flush() bool {
	t.wlock.Lock()
	defer t.wlock.Unlock()
	return t.flushLocked()
}

func (t *Tunnel) flushLocked() bool {
	if t.outN <= 1 {
		return true
	}
	t.out.Length = t.outN
	t.out.SetHeader(t.Dest, t.Local, packet.TypeSerial)
	t.out.SetChecksum()
	if !t.send.Put(&t.out) {
		return false
	}
	t.outN = 1
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return true
}

func (t *Tunnel) startTimer() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.Clock.AfterFunc(t.FlushDelay, t.flushTimeout)
}

func (t *Tunnel) flushTimeout() {
	t.wlock.Lock()
	defer t.wlock.Unlock()
	if t.outN > 1 && !t.flushLocked() {
		glog.V(3).Info("tunnel: send queue full, flush later")
		t.startTimer()
	}
}

// Read implements io.Reader. It blocks until some bytes are received.
func (t *Tunnel) Read(p []byte) (int, error) {
	return t.ReadContext(context.Background(), p)
}

// ReadContext reads like Read and gives up when ctx is done.
func (t *Tunnel) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if n := t.drain(p); n > 0 {
			return n, nil
		}
		if t.isClosed() {
			return 0, io.EOF
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.closed:
		case <-t.recv.Readable():
		}
	}
}

func (t *Tunnel) drain(p []byte) (n int) {
	t.rlock.Lock()
	defer t.rlock.Unlock()
	for n < len(p) {
		if t.inPos >= t.in.Length {
			if !t.recv.Get(&t.in) {
				break
			}
			t.inPos = 1
			continue
		}
		c := copy(p[n:], t.in.Payload[t.inPos:t.in.Length])
		t.inPos += byte(c)
		n += c
	}
	return
}

// Close unblocks readers and writers. Pending bytes are flushed if possible.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		t.Flush()
		close(t.closed)
	})
	return nil
}

func (t *Tunnel) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}
