package radio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/queue"
	"github.com/robotalks/chainbus/pkg/bus/router"
)

type fakeStack struct {
	lock    sync.Mutex
	handles []uint16
	notes   [][]byte
	err     error
	refused int
}

func (s *fakeStack) Notify(handle uint16, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		s.refused++
		return s.err
	}
	s.handles = append(s.handles, handle)
	s.notes = append(s.notes, append([]byte(nil), data...))
	return nil
}

func (s *fakeStack) SetErr(err error) {
	s.lock.Lock()
	s.err = err
	s.lock.Unlock()
}

func (s *fakeStack) Refused() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.refused
}

func (s *fakeStack) Notes() [][]byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([][]byte(nil), s.notes...)
}

type bridgeFixture struct {
	stack  *fakeStack
	link   *queue.Queue
	serial *queue.Queue
	routed []packet.Packet
	bridge *Bridge
}

func newBridgeFixture() *bridgeFixture {
	f := &bridgeFixture{
		stack:  &fakeStack{},
		link:   queue.New("radio", 8, queue.DropOldest),
		serial: queue.New("serial", 4, queue.RejectFull),
	}
	f.bridge = NewBridge(f.stack, router.HandlerFunc(func(pkt *packet.Packet, from router.From) {
		if from == router.FromUpstream {
			f.routed = append(f.routed, *pkt)
		}
	}), f.link, f.serial)
	return f
}

func toRadio(body ...byte) *packet.Packet {
	p := packet.New(append([]byte{0x10}, body...))
	return &p
}

func TestBridgeSendNeedsSubscriber(t *testing.T) {
	f := newBridgeFixture()
	require.Equal(t, ErrTryLater, f.bridge.Send(toRadio(1)))
	f.bridge.Connected()
	require.Equal(t, ErrTryLater, f.bridge.Send(toRadio(1)))
	f.bridge.Subscribed(true)
	require.NoError(t, f.bridge.Send(toRadio(1)))
	f.bridge.Disconnected()
	require.Equal(t, ErrTryLater, f.bridge.Send(toRadio(1)))
	require.Equal(t, [][]byte{{0x10, 1}}, f.stack.Notes())
	require.Equal(t, []uint16{DefaultHandle}, f.stack.handles)
}

func TestBridgeCredits(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.Connected()
	f.bridge.Subscribed(true)
	require.Equal(t, DefaultBuffers-DefaultReserve, f.bridge.Credits())
	for i := 0; i < DefaultBuffers-DefaultReserve; i++ {
		require.NoError(t, f.bridge.Send(toRadio(byte(i))))
	}
	require.Zero(t, f.bridge.Credits())
	require.False(t, f.bridge.Writable())
	require.Equal(t, ErrTryLater, f.bridge.Send(toRadio(0xff)))

	f.bridge.Completed(2)
	require.Equal(t, 2, f.bridge.Credits())
	require.NoError(t, f.bridge.Send(toRadio(0xfe)))
	require.Equal(t, 1, f.bridge.Credits())

	f.bridge.Connected()
	require.Equal(t, ErrTryLater, f.bridge.Send(toRadio(1)))
	f.bridge.Subscribed(true)
	require.Equal(t, DefaultBuffers-DefaultReserve, f.bridge.Credits())
	sent, _, _ := f.bridge.Counters()
	require.Equal(t, uint64(DefaultBuffers-DefaultReserve+1), sent)
}

func TestBridgeSendFailure(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.Connected()
	f.bridge.Subscribed(true)
	errBusy := errors.New("busy")
	f.stack.err = errBusy
	require.Equal(t, errBusy, f.bridge.Send(toRadio(1)))
	require.Equal(t, DefaultBuffers-DefaultReserve, f.bridge.Credits())
	require.True(t, errors.Is(f.bridge.Send(&packet.Packet{}), ErrBadSize))
}

func TestBridgeWritten(t *testing.T) {
	f := newBridgeFixture()
	require.NoError(t, f.bridge.Written([]byte{0x40, 'a', 'b'}))
	require.Equal(t, []packet.Packet{packet.New([]byte{0x40, 'a', 'b'})}, f.routed)

	require.True(t, errors.Is(f.bridge.Written(nil), ErrBadSize))
	require.True(t, errors.Is(f.bridge.Written(make([]byte, packet.MaxPayload+1)), ErrBadSize))
	require.Len(t, f.routed, 1)
	_, received, rejected := f.bridge.Counters()
	require.Equal(t, uint64(1), received)
	require.Equal(t, uint64(2), rejected)
}

func TestBridgeRunPrefersLink(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.Buffers = 2
	require.True(t, f.serial.Put(toRadio('s')))
	require.True(t, f.link.Put(toRadio('l')))
	notForRadio := packet.New([]byte{0x80, 'x'})
	require.True(t, f.link.Put(&notForRadio))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.bridge.Run(ctx) }()

	f.bridge.Connected()
	f.bridge.Subscribed(true)
	require.Eventually(t, func() bool { return len(f.stack.Notes()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, [][]byte{{0x10, 'l'}}, f.stack.Notes())
	require.True(t, f.serial.Ready())

	f.bridge.Completed(1)
	require.Eventually(t, func() bool { return len(f.stack.Notes()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, [][]byte{{0x10, 'l'}, {0x10, 's'}}, f.stack.Notes())
	require.False(t, f.link.Ready())
	require.False(t, f.serial.Ready())

	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}

func TestBridgeStaleCompletions(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.Connected()
	f.bridge.Subscribed(true)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.bridge.Send(toRadio(byte(i))))
	}
	f.bridge.Disconnected()
	f.bridge.Connected()
	f.bridge.Completed(3)
	require.Equal(t, DefaultBuffers-DefaultReserve, f.bridge.Credits())
}

func TestBridgeResumeKeepsSubscription(t *testing.T) {
	f := newBridgeFixture()
	f.bridge.Connected()
	f.bridge.Subscribed(true)
	require.NoError(t, f.bridge.Send(toRadio(1)))

	f.bridge.Suspended()
	require.False(t, f.bridge.Writable())
	require.Equal(t, ErrTryLater, f.bridge.Send(toRadio(2)))

	f.bridge.Resumed()
	require.True(t, f.bridge.Writable())
	require.Equal(t, DefaultBuffers-DefaultReserve, f.bridge.Credits())
	require.NoError(t, f.bridge.Send(toRadio(3)))
	require.Equal(t, [][]byte{{0x10, 1}, {0x10, 3}}, f.stack.Notes())
}

func TestBridgeHoldsRefusedPacket(t *testing.T) {
	f := newBridgeFixture()
	f.stack.SetErr(ErrTryLater)
	f.bridge.Connected()
	f.bridge.Subscribed(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.bridge.Run(ctx) }()

	require.True(t, f.link.Put(toRadio('l')))
	require.Eventually(t, func() bool { return f.stack.Refused() == 1 }, time.Second, time.Millisecond)
	require.False(t, f.link.Ready())
	require.Equal(t, DefaultBuffers-DefaultReserve, f.bridge.Credits())

	f.stack.SetErr(nil)
	f.bridge.Completed(1)
	require.Eventually(t, func() bool { return len(f.stack.Notes()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, [][]byte{{0x10, 'l'}}, f.stack.Notes())

	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}
