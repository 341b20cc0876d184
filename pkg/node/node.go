// Package node assembles one controller of the chain: its router, link
// engines, queues, serial tunnel, command dispatcher and, on the radio
// end, the wireless bridge.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/bus/link"
	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/queue"
	"github.com/robotalks/chainbus/pkg/bus/router"
	"github.com/robotalks/chainbus/pkg/command"
	fx "github.com/robotalks/chainbus/pkg/framework"
	"github.com/robotalks/chainbus/pkg/hw"
	"github.com/robotalks/chainbus/pkg/radio"
	"github.com/robotalks/chainbus/pkg/tunnel"
)

// Queue sizes.
const (
	LinkSlots  = 4
	RadioSlots = 8
)

// Config configures a node.
type Config struct {
	Local packet.Location
	Last  packet.Location
	// RadioEnd makes the node own the wireless bridge as its upstream link.
	RadioEnd bool

	HandshakeSpins int
	PollInterval   time.Duration
	FlushDelay     time.Duration
	Clock          clock.Clock
}

// DefaultConfig returns the config of a node with default timing.
func DefaultConfig(local, last packet.Location) Config {
	return Config{
		Local:          local,
		Last:           last,
		RadioEnd:       local == packet.LocRadio,
		HandshakeSpins: link.DefaultHandshakeSpins,
		PollInterval:   link.DefaultPollInterval,
		FlushDelay:     tunnel.DefaultFlushDelay,
	}
}

// Node is one controller on the chain. Each node is the slave of its
// upstream link and the master of its downstream link.
type Node struct {
	Config Config
	Name   string

	Router   *router.Router
	Tunnel   *tunnel.Tunnel
	Commands *command.Dispatcher
	Bus      *hw.SharedBus

	// Up and Down are the outbound queues of the adjacent links.
	Up   *queue.Queue
	Down *queue.Queue

	Slave  *link.Slave
	Master *link.Master
	Bridge *radio.Bridge
}

// New creates a node with no links attached.
func New(conf Config) *Node {
	if conf.Clock == nil {
		conf.Clock = clock.New()
	}
	n := &Node{
		Config: conf,
		Name:   fmt.Sprintf("node%d", conf.Local),
		Bus:    hw.NewSharedBus(),
	}
	n.Router = &router.Router{
		Local:    conf.Local,
		Last:     conf.Last,
		RadioEnd: conf.RadioEnd,
	}
	n.Tunnel = tunnel.New(conf.Local, packet.LocRadio, conf.Clock)
	if conf.FlushDelay > 0 {
		n.Tunnel.FlushDelay = conf.FlushDelay
	}
	n.Commands = command.NewDispatcher(conf.Local, n.Router)
	n.Commands.Handle(command.CodeInfo, command.HandlerFunc(n.info))
	n.Router.Serial = n.Tunnel
	n.Router.Command = n.Commands
	return n
}

// AttachUpstream attaches the link towards the radio end.
func (n *Node) AttachUpstream(port hw.SlavePort) *link.Slave {
	n.Up = queue.New(n.Name+"-up", LinkSlots, queue.RejectFull)
	n.Slave = link.NewSlave(n.Name+"-up", port, n.Up, router.FromUpstream)
	n.Router.Upstream = n.Up
	return n.Slave
}

// AttachDownstream attaches the link away from the radio end.
func (n *Node) AttachDownstream(port hw.MasterPort) *link.Master {
	n.Down = queue.New(n.Name+"-down", LinkSlots, queue.RejectFull)
	n.Master = link.NewMaster(n.Name+"-down", port, n.Bus, n.Down, router.FromDownstream)
	if n.Config.HandshakeSpins > 0 {
		n.Master.HandshakeSpins = n.Config.HandshakeSpins
	}
	if n.Config.PollInterval > 0 {
		n.Master.PollInterval = n.Config.PollInterval
	}
	n.Master.Clock = n.Config.Clock
	n.Router.Downstream = n.Down
	return n.Master
}

// AttachRadio attaches the wireless bridge as the upstream link. The
// stack is usually bound to the returned bridge afterwards.
func (n *Node) AttachRadio(stack radio.Stack) *radio.Bridge {
	n.Up = queue.New(n.Name+"-radio", RadioSlots, queue.DropOldest)
	n.Bridge = radio.NewBridge(stack, n.Router, n.Up, n.Tunnel.SendQueue())
	n.Router.Upstream = n.Up
	return n.Bridge
}

// Send routes a locally produced packet.
func (n *Node) Send(pkt *packet.Packet) router.Result {
	return n.Router.Route(pkt, router.FromLocal)
}

// Queues returns all queues of the node.
func (n *Node) Queues() []*queue.Queue {
	qs := []*queue.Queue{n.Tunnel.SendQueue(), n.Tunnel.RecvQueue(), n.Commands.RecvQueue()}
	for _, q := range []*queue.Queue{n.Up, n.Down} {
		if q != nil {
			qs = append(qs, q)
		}
	}
	return qs
}

// AddTasks implements fx.TaskAdder.
func (n *Node) AddTasks(r *fx.Runner) {
	if n.Slave != nil {
		r.Go(fx.NamedFunc(n.Slave.Name, func(ctx context.Context) error {
			return n.Slave.Run(ctx, n.Router)
		}))
	}
	if n.Master != nil {
		r.Go(fx.NamedFunc(n.Master.Name, func(ctx context.Context) error {
			return n.Master.Run(ctx, n.Router)
		}))
	}
	if n.Bridge != nil {
		r.Go(fx.NamedFunc(n.Name+"-radio", n.Bridge.Run))
	} else {
		r.Go(fx.NamedFunc(n.Name+"-serial", n.pumpSerial))
	}
	r.Go(fx.NamedFunc(n.Name+"-commands", n.Commands.Run))
	r.Go(fx.NamedFunc(n.Name+"-tunnel", func(ctx context.Context) error {
		<-ctx.Done()
		n.Tunnel.Close()
		return ctx.Err()
	}))
}

// pumpSerial routes the serial stream output when the radio is reached
// through a link.
func (n *Node) pumpSerial(ctx context.Context) error {
	var pkt packet.Packet
	for {
		if err := n.Tunnel.SendQueue().GetWait(ctx, &pkt); err != nil {
			return err
		}
		if n.Up != nil {
			for n.Up.Len() >= n.Up.Cap() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-n.Up.Writable():
				}
			}
		}
		if res := n.Send(&pkt); res.Dropped() {
			glog.V(2).Infof("%s: serial output %s", n.Name, res)
		}
	}
}

func (n *Node) info(context.Context, *command.Request) ([]byte, error) {
	return Info{
		Local:      n.Config.Local,
		Last:       n.Config.Last,
		RadioEnd:   n.Config.RadioEnd,
		Downstream: n.Down != nil,
	}.Bytes(), nil
}

// Info is the reply body of the info command.
type Info struct {
	Local      packet.Location `json:"local"`
	Last       packet.Location `json:"last"`
	RadioEnd   bool            `json:"radio_end"`
	Downstream bool            `json:"downstream"`
}

// Bytes encodes the info as local, last and flags.
func (i Info) Bytes() []byte {
	var flags byte
	if i.RadioEnd {
		flags |= 0x01
	}
	if i.Downstream {
		flags |= 0x02
	}
	return []byte{byte(i.Local), byte(i.Last), flags}
}

// ParseInfo decodes the info from the reply arguments.
func ParseInfo(args []byte) (info Info, err error) {
	if len(args) < 3 {
		return info, fmt.Errorf("info reply too short: %d bytes", len(args))
	}
	info.Local, info.Last = packet.Location(args[0]), packet.Location(args[1])
	info.RadioEnd = args[2]&0x01 != 0
	info.Downstream = args[2]&0x02 != 0
	return info, nil
}
