// Package radio adapts the packet bus to a wireless stack exposing a
// notify characteristic towards the peer and a write characteristic
// from it.
package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/router"
	fx "github.com/robotalks/chainbus/pkg/framework"
)

var (
	// ErrTryLater is returned by Send when the stack can't take a
	// notification now. It is flow control, not a failure.
	ErrTryLater = errors.New("try later")
	// ErrBadSize indicates a write outside 1..packet.MaxPayload bytes.
	ErrBadSize = errors.New("invalid write size")
)

// Stack is the wireless stack sending notifications to the peer.
type Stack interface {
	Notify(handle uint16, data []byte) error
}

// Events are reported by a Stack to its Bridge.
type Events interface {
	Connected()
	Disconnected()
	Subscribed(enabled bool)
	Completed(count int)
	Written(data []byte) error
}

// Resumable Events survive an interruption of the stack transport, such
// as a broker reconnect, while the peer stays subscribed.
type Resumable interface {
	Suspended()
	Resumed()
}

// Source provides packets to send.
type Source interface {
	Get(*packet.Packet) bool
	Ready() bool
	Readable() <-chan struct{}
}

// Bridge defaults.
const (
	DefaultBuffers = 7
	DefaultReserve = 1
	DefaultHandle  = 0x0e
)

// Bridge moves packets between the bus and a wireless Stack. Sends are
// flow controlled by credits: the number of notification buffers the
// stack can take, returned by completion events.
type Bridge struct {
	Stack   Stack
	Handler router.Handler
	// Link carries packets for the peer from other nodes.
	Link Source
	// Serial carries the local serial stream, sent after Link.
	Serial Source
	// Handle is the notify characteristic.
	Handle uint16
	// Buffers is the credit granted by the stack on connection.
	Buffers int
	// Reserve is the credit held back from the application.
	Reserve int

	lock       sync.Mutex
	connected  bool
	subscribed bool
	credits    int
	sent       uint64
	received   uint64
	rejected   uint64
	wake       *fx.Signal

	// held is a packet the stack refused, sent before the sources.
	held    packet.Packet
	hasHeld bool
}

// NewBridge creates a Bridge with default buffers and reserve.
func NewBridge(stack Stack, handler router.Handler, link, serial Source) *Bridge {
	return &Bridge{
		Stack:   stack,
		Handler: handler,
		Link:    link,
		Serial:  serial,
		Handle:  DefaultHandle,
		Buffers: DefaultBuffers,
		Reserve: DefaultReserve,
		credits: DefaultBuffers,
		wake:    fx.NewSignal(),
	}
}

// Connected implements Events.
func (b *Bridge) Connected() {
	b.lock.Lock()
	b.connected, b.subscribed = true, false
	b.credits = b.Buffers
	b.lock.Unlock()
	glog.Info("radio: peer connected")
	b.wake.Raise()
}

// Disconnected implements Events.
func (b *Bridge) Disconnected() {
	b.lock.Lock()
	b.connected, b.subscribed = false, false
	b.lock.Unlock()
	glog.Info("radio: peer disconnected")
}

// Suspended implements Resumable. Sends are refused until Resumed, the
// subscription of the peer is kept.
func (b *Bridge) Suspended() {
	b.lock.Lock()
	b.connected = false
	b.lock.Unlock()
	glog.Info("radio: link suspended")
}

// Resumed implements Resumable. The stack buffers are granted again.
func (b *Bridge) Resumed() {
	b.lock.Lock()
	b.connected = true
	b.credits = b.Buffers
	subscribed := b.subscribed
	b.lock.Unlock()
	glog.Infof("radio: link resumed, subscribed=%v", subscribed)
	b.wake.Raise()
}

// Subscribed implements Events.
func (b *Bridge) Subscribed(enabled bool) {
	b.lock.Lock()
	b.subscribed = enabled
	b.lock.Unlock()
	glog.V(1).Infof("radio: notifications enabled=%v", enabled)
	b.wake.Raise()
}

// Completed implements Events.
func (b *Bridge) Completed(count int) {
	if count <= 0 {
		return
	}
	b.lock.Lock()
	// completions of a previous connection may arrive after Connected
	if b.credits += count; b.credits > b.Buffers {
		b.credits = b.Buffers
	}
	b.lock.Unlock()
	b.wake.Raise()
}

// Written implements Events. The data is routed as a packet arriving
// from upstream.
func (b *Bridge) Written(data []byte) error {
	if len(data) < 1 || len(data) > packet.MaxPayload {
		b.lock.Lock()
		b.rejected++
		b.lock.Unlock()
		return fmt.Errorf("radio: %w: %d", ErrBadSize, len(data))
	}
	pkt := packet.New(data)
	b.lock.Lock()
	b.received++
	b.lock.Unlock()
	glog.V(4).Infof("radio: written %v", pkt)
	b.Handler.HandlePacket(&pkt, router.FromUpstream)
	return nil
}

// Credits returns the credits available to Send.
func (b *Bridge) Credits() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.available()
}

func (b *Bridge) available() int {
	if n := b.credits - b.Reserve; n > 0 {
		return n
	}
	return 0
}

// Writable indicates Send would not be refused.
func (b *Bridge) Writable() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.connected && b.subscribed && b.available() > 0
}

// Counters returns the numbers of packets sent, received and rejected writes.
func (b *Bridge) Counters() (sent, received, rejected uint64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.sent, b.received, b.rejected
}

// Send sends a packet as a notification.
func (b *Bridge) Send(pkt *packet.Packet) error {
	if pkt.IsFiller() || pkt.Length > packet.MaxPayload {
		return fmt.Errorf("radio: %w: %d", ErrBadSize, pkt.Length)
	}
	b.lock.Lock()
	if !b.connected || !b.subscribed || b.available() == 0 {
		b.lock.Unlock()
		return ErrTryLater
	}
	b.credits--
	b.lock.Unlock()

	// the stack may report completion before Notify returns
	err := b.Stack.Notify(b.Handle, pkt.Data())
	b.lock.Lock()
	if err != nil {
		b.credits++
	} else {
		b.sent++
	}
	b.lock.Unlock()
	return err
}

// Run sends queued packets whenever the stack can take them, packets
// from other nodes first.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		for b.Writable() && b.sendNext() {
		}
		var serialReady <-chan struct{}
		if b.Serial != nil {
			serialReady = b.Serial.Readable()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.wake.C():
		case <-b.Link.Readable():
		case <-serialReady:
		}
	}
}

func (b *Bridge) sendNext() bool {
	var pkt packet.Packet
	if b.hasHeld {
		pkt, b.hasHeld = b.held, false
	} else if !b.Link.Get(&pkt) && (b.Serial == nil || !b.Serial.Get(&pkt)) {
		return false
	}
	if dest := pkt.Dest(); dest != packet.LocRadio {
		glog.Warningf("radio: discard packet for %d: %v", dest, pkt)
		return true
	}
	switch err := b.Send(&pkt); {
	case err == nil:
		glog.V(4).Infof("radio: sent %v", pkt)
	case errors.Is(err, ErrTryLater):
		// state changed since Writable was checked
		b.held, b.hasHeld = pkt, true
		glog.V(2).Infof("radio: held %v", pkt)
		return false
	default:
		glog.Warningf("radio: send %v failed: %v", pkt, err)
	}
	return true
}
