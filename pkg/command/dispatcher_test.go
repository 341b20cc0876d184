package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/queue"
	"github.com/robotalks/chainbus/pkg/bus/router"
)

func newTestDispatcher() (*Dispatcher, *queue.Queue) {
	upstream := queue.New("up", 4, queue.RejectFull)
	r := &router.Router{Local: 2, Last: 3, Upstream: upstream}
	return NewDispatcher(2, r), upstream
}

func TestPing(t *testing.T) {
	d, upstream := newTestDispatcher()
	req := NewPacket(2, 0, CodePing, []byte("abc"))
	require.NoError(t, d.Dispatch(context.Background(), &req))

	var reply packet.Packet
	require.True(t, upstream.Get(&reply))
	require.True(t, reply.Valid())
	require.Equal(t, packet.LocRadio, reply.Dest())
	require.Equal(t, packet.LocNode2, reply.Source())
	require.Equal(t, packet.TypeCommand, reply.Type())
	require.Equal(t, append([]byte{CodePing | ReplyFlag}, "abc"...), reply.Body())
}

func TestDispatchErrors(t *testing.T) {
	d, upstream := newTestDispatcher()
	req := NewPacket(2, 0, 0x7f, nil)
	require.True(t, errors.Is(d.Dispatch(context.Background(), &req), ErrUnknownCommand))

	errFail := errors.New("fail")
	d.Handle(0x10, HandlerFunc(func(context.Context, *Request) ([]byte, error) {
		return nil, errFail
	}))
	req = NewPacket(2, 0, 0x10, nil)
	require.Equal(t, errFail, d.Dispatch(context.Background(), &req))

	d.Handle(0x11, HandlerFunc(func(_ context.Context, r *Request) ([]byte, error) {
		require.Equal(t, []byte{1, 2}, r.Args)
		return nil, nil
	}))
	req = NewPacket(2, 1, 0x11, []byte{1, 2})
	require.NoError(t, d.Dispatch(context.Background(), &req))
	require.False(t, upstream.Ready())

	short := packet.New([]byte{0x81})
	require.False(t, d.PutRecvQueue(&short))
}

func TestRepliesNotDispatched(t *testing.T) {
	d, upstream := newTestDispatcher()
	reply := NewPacket(2, 1, CodePing|ReplyFlag, []byte{1})
	require.NoError(t, d.Dispatch(context.Background(), &reply))
	require.False(t, upstream.Ready())
}

type senderFunc func(*packet.Packet, router.From) router.Result

func (f senderFunc) Route(pkt *packet.Packet, from router.From) router.Result {
	return f(pkt, from)
}

func TestCall(t *testing.T) {
	sent := make(chan packet.Packet, 1)
	d := NewDispatcher(2, senderFunc(func(pkt *packet.Packet, from router.From) router.Result {
		sent <- *pkt
		return router.ForwardDownstream
	}))
	go func() {
		req := <-sent
		reply := NewPacket(req.Source(), req.Dest(), req.Payload[1]|ReplyFlag, []byte{9})
		d.Dispatch(context.Background(), &reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := d.Call(ctx, packet.LocNode3, CodeInfo, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{9}, reply)
	require.Empty(t, d.calls)

	dropped := NewDispatcher(2, senderFunc(func(*packet.Packet, router.From) router.Result {
		return router.DropFull
	}))
	_, err = dropped.Call(ctx, packet.LocNode3, CodePing, nil)
	require.Error(t, err)
	require.Empty(t, dropped.calls)

	_, err = d.Call(ctx, packet.LocNode3, CodePing|ReplyFlag, nil)
	require.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestReplyTruncated(t *testing.T) {
	d, upstream := newTestDispatcher()
	d.Handle(0x20, HandlerFunc(func(context.Context, *Request) ([]byte, error) {
		return make([]byte, 40), nil
	}))
	req := NewPacket(2, 0, 0x20, nil)
	require.NoError(t, d.Dispatch(context.Background(), &req))
	var reply packet.Packet
	require.True(t, upstream.Get(&reply))
	require.Equal(t, byte(packet.MaxPayload), reply.Length)
}

func TestRun(t *testing.T) {
	d, upstream := newTestDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	for i := byte(0); i < 3; i++ {
		req := NewPacket(2, 1, CodePing, []byte{i})
		require.True(t, d.PutRecvQueue(&req))
	}
	var reply packet.Packet
	for i := byte(0); i < 3; i++ {
		require.NoError(t, upstream.GetWait(ctx, &reply))
		require.Equal(t, []byte{CodePing | ReplyFlag, i}, reply.Body())
		require.Equal(t, packet.LocNode1, reply.Dest())
	}

	cancel()
	select {
	case err := <-errCh:
		require.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher not stopped")
	}
}
