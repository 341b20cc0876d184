package node_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/router"
	"github.com/robotalks/chainbus/pkg/command"
	"github.com/robotalks/chainbus/pkg/node"
	"github.com/robotalks/chainbus/pkg/sim"
)

func TestInfo(t *testing.T) {
	info := node.Info{Local: packet.LocNode1, Last: packet.LocNode3, Downstream: true}
	require.Equal(t, []byte{1, 3, 0x02}, info.Bytes())
	parsed, err := node.ParseInfo(info.Bytes())
	require.NoError(t, err)
	require.Equal(t, info, parsed)

	parsed, err = node.ParseInfo([]byte{0, 2, 0x01, 0xff})
	require.NoError(t, err)
	require.True(t, parsed.RadioEnd)

	_, err = node.ParseInfo([]byte{1, 2})
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	require.True(t, node.DefaultConfig(packet.LocRadio, packet.LocNode2).RadioEnd)
	require.False(t, node.DefaultConfig(packet.LocNode1, packet.LocNode2).RadioEnd)
}

func TestInfoCommand(t *testing.T) {
	n := node.New(node.DefaultConfig(packet.LocNode1, packet.LocNode2))
	n.AttachDownstream(sim.NewWire())

	// a request from the node itself is answered locally
	req := command.NewPacket(packet.LocNode1, packet.LocNode1, command.CodeInfo, nil)
	require.NoError(t, n.Commands.Dispatch(context.Background(), &req))

	var reply packet.Packet
	require.True(t, n.Commands.RecvQueue().Get(&reply))
	require.Equal(t, packet.TypeCommand, reply.Type())
	require.Equal(t, []byte{command.CodeInfo | command.ReplyFlag, 1, 2, 0x02}, reply.Body())
}

func TestNodeRouting(t *testing.T) {
	n := node.New(node.DefaultConfig(packet.LocNode1, packet.LocNode2))
	require.Len(t, n.Queues(), 3)

	pkt := packet.New([]byte{0x10, 'x'})
	pkt.SetHeader(packet.LocRadio, packet.LocNode1, packet.TypeSerial)
	pkt.SetChecksum()
	require.Equal(t, router.DropNoRoute, n.Send(&pkt))

	wire := sim.NewWire()
	wire.Attach(n.AttachUpstream(wire))
	n.AttachDownstream(sim.NewWire())
	require.Len(t, n.Queues(), 5)
	require.Equal(t, router.ForwardUpstream, n.Send(&pkt))
	require.Equal(t, 1, n.Up.Len())

	pkt.SetDest(packet.LocNode3)
	pkt.SetChecksum()
	require.Equal(t, router.DropRange, n.Send(&pkt))
}

func TestEmptySerialDelivered(t *testing.T) {
	n := node.New(node.DefaultConfig(packet.LocNode1, packet.LocNode2))
	pkt := packet.New([]byte{0x01})
	pkt.SetHeader(packet.LocNode1, packet.LocRadio, packet.TypeSerial)
	pkt.SetChecksum()
	require.Equal(t, router.DeliverSerial, n.Send(&pkt))
	require.Zero(t, n.Router.Count(router.DropFull))
}
