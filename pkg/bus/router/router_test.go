package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/queue"
)

type recvQueue struct {
	*queue.Queue
}

func (q recvQueue) PutRecvQueue(pkt *packet.Packet) bool {
	return q.Put(pkt)
}

type testNode struct {
	router     *Router
	upstream   *queue.Queue
	downstream *queue.Queue
	serial     *queue.Queue
	command    *queue.Queue
}

func newTestNode(local, last packet.Location) *testNode {
	n := &testNode{
		upstream:   queue.New("up", 4, queue.RejectFull),
		downstream: queue.New("down", 4, queue.RejectFull),
		serial:     queue.New("serial", 4, queue.DropOldest),
		command:    queue.New("command", 4, queue.DropOldest),
	}
	n.router = &Router{
		Local:      local,
		Last:       last,
		Upstream:   n.upstream,
		Downstream: n.downstream,
		Serial:     recvQueue{n.serial},
		Command:    recvQueue{n.command},
	}
	return n
}

func makePacket(dest, src packet.Location, typ packet.Type, body ...byte) *packet.Packet {
	var p packet.Packet
	p.Init(byte(len(body)+1), append([]byte{0}, body...))
	p.SetHeader(dest, src, typ)
	p.SetChecksum()
	return &p
}

func TestRouteOnMiddleNode(t *testing.T) {
	testCases := []struct {
		name   string
		pkt    *packet.Packet
		from   From
		expect Result
	}{
		{"to radio", makePacket(0, 1, packet.TypeSerial, 'a'), FromLocal, ForwardUpstream},
		{"serial to self", makePacket(1, 0, packet.TypeSerial, 'b'), FromUpstream, DeliverSerial},
		{"command to self", makePacket(1, 2, packet.TypeCommand, 3), FromDownstream, DeliverCommand},
		{"other type to self", makePacket(1, 2, packet.Type(5)), FromDownstream, DeliverCommand},
		{"to node 2", makePacket(2, 0, packet.TypeSerial, 'c'), FromUpstream, ForwardDownstream},
		{"to node 3", makePacket(3, 1, packet.TypeCommand, 1), FromLocal, ForwardDownstream},
		{"back downstream", makePacket(3, 2, packet.TypeSerial), FromDownstream, DropLoop},
		{"back upstream", makePacket(0, 2, packet.TypeSerial), FromUpstream, DropLoop},
		{"filler", &packet.Packet{}, FromUpstream, DropInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n := newTestNode(1, 3)
			require.Equal(t, tc.expect, n.router.Route(tc.pkt, tc.from))
			require.Equal(t, uint64(1), n.router.Count(tc.expect))

			var got packet.Packet
			targets := map[Result]*queue.Queue{
				DeliverSerial:     n.serial,
				DeliverCommand:    n.command,
				ForwardUpstream:   n.upstream,
				ForwardDownstream: n.downstream,
			}
			for res, q := range targets {
				if res == tc.expect {
					require.True(t, q.Get(&got), res.String())
					require.Equal(t, *tc.pkt, got)
				}
				require.False(t, q.Ready(), res.String())
			}
		})
	}
}

func TestRouteDropsCorrupted(t *testing.T) {
	n := newTestNode(1, 3)
	pkt := makePacket(1, 0, packet.TypeSerial, 'x')
	pkt.Payload[1] ^= 0x10
	require.Equal(t, DropInvalid, n.router.Route(pkt, FromUpstream))
	require.False(t, n.serial.Ready())

	pkt = makePacket(1, 0, packet.TypeSerial)
	pkt.Length = packet.MaxPayload + 1
	require.Equal(t, DropInvalid, n.router.Route(pkt, FromUpstream))
}

func TestRouteOutOfRange(t *testing.T) {
	n := newTestNode(1, 2)
	require.Equal(t, DropRange, n.router.Route(makePacket(3, 0, packet.TypeSerial), FromUpstream))
	require.False(t, n.downstream.Ready())
}

func TestRouteLastNode(t *testing.T) {
	n := newTestNode(3, 3)
	n.router.Downstream = nil
	require.Equal(t, DeliverSerial, n.router.Route(makePacket(3, 0, packet.TypeSerial, 1), FromUpstream))
	require.Equal(t, ForwardUpstream, n.router.Route(makePacket(1, 3, packet.TypeSerial, 1), FromLocal))
	require.Equal(t, ForwardUpstream, n.router.Route(makePacket(0, 3, packet.TypeSerial, 1), FromLocal))
}

func TestRouteNoRoute(t *testing.T) {
	n := newTestNode(1, 3)
	n.router.Downstream, n.router.Command = nil, nil
	require.Equal(t, DropNoRoute, n.router.Route(makePacket(2, 0, packet.TypeSerial), FromUpstream))
	require.Equal(t, DropNoRoute, n.router.Route(makePacket(1, 0, packet.TypeCommand), FromUpstream))
	require.Equal(t, uint64(2), n.router.Count(DropNoRoute))
}

func TestRouteQueueFull(t *testing.T) {
	n := newTestNode(1, 3)
	for i := 0; i < n.downstream.Cap(); i++ {
		require.Equal(t, ForwardDownstream, n.router.Route(makePacket(2, 0, packet.TypeSerial, byte(i)), FromUpstream))
	}
	require.Equal(t, DropFull, n.router.Route(makePacket(2, 0, packet.TypeSerial), FromUpstream))
	require.Equal(t, n.downstream.Cap(), n.downstream.Len())
}

func TestRouteRadioEnd(t *testing.T) {
	n := newTestNode(0, 3)
	n.router.RadioEnd = true
	require.Equal(t, DeliverSerial, n.router.Route(makePacket(0, 0, packet.TypeSerial, 'w'), FromUpstream))
	require.Equal(t, ForwardUpstream, n.router.Route(makePacket(0, 2, packet.TypeSerial, 'r'), FromDownstream))
	require.Equal(t, ForwardUpstream, n.router.Route(makePacket(0, 0, packet.TypeSerial, 'l'), FromLocal))
	require.Equal(t, ForwardDownstream, n.router.Route(makePacket(2, 0, packet.TypeCommand, 1), FromUpstream))
	require.Equal(t, 2, n.upstream.Len())
}

func TestHandlerFunc(t *testing.T) {
	var got From = -1
	var h Handler = HandlerFunc(func(pkt *packet.Packet, from From) { got = from })
	h.HandlePacket(makePacket(0, 1, packet.TypeSerial), FromDownstream)
	require.Equal(t, FromDownstream, got)
	require.Equal(t, "drop-loop", DropLoop.String())
	require.True(t, DropFull.Dropped())
	require.False(t, ForwardUpstream.Dropped())
}
