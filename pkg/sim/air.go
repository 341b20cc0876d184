package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/robotalks/chainbus/pkg/radio"
)

// ErrNotConnected is returned by peer operations before Connect.
var ErrNotConnected = errors.New("peer not connected")

// Air is an in-memory wireless stack with a scripted peer. Notifications
// are buffered until the peer receives them, and a buffer is only
// reported complete when the peer has taken it.
type Air struct {
	events radio.Events
	notes  chan []byte

	lock      sync.Mutex
	connected bool
}

// NewAir creates an Air holding up to buffers notifications.
func NewAir(buffers int) *Air {
	return &Air{notes: make(chan []byte, buffers)}
}

// Bind sets the receiver of stack events.
func (a *Air) Bind(events radio.Events) {
	a.events = events
}

// Notify implements radio.Stack.
func (a *Air) Notify(handle uint16, data []byte) error {
	select {
	case a.notes <- append([]byte(nil), data...):
		return nil
	default:
		return radio.ErrTryLater
	}
}

// Connect connects the peer and enables notifications.
func (a *Air) Connect() {
	a.lock.Lock()
	a.connected = true
	a.lock.Unlock()
	a.events.Connected()
	a.events.Subscribed(true)
}

// Disconnect disconnects the peer.
func (a *Air) Disconnect() {
	a.lock.Lock()
	a.connected = false
	a.lock.Unlock()
	a.events.Disconnected()
}

// Write sends a value from the peer.
func (a *Air) Write(data []byte) error {
	a.lock.Lock()
	connected := a.connected
	a.lock.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return a.events.Written(data)
}

// Receive waits for the next notification on the peer side.
func (a *Air) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-a.notes:
		a.events.Completed(1)
		return data, nil
	}
}
