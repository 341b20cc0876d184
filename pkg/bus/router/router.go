// Package router decides, for every packet produced locally or received
// on a link, whether it is delivered to a local collaborator, forwarded
// to an adjacent link, or dropped.
//
// Locations are ordered along the chain: codes lower than the local one
// are reached through the upstream link (towards the radio end), higher
// codes through the downstream link.
package router

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/bus/packet"
)

// From tells where a packet comes from.
type From int

// Packet origins.
const (
	FromLocal From = iota
	FromUpstream
	FromDownstream
)

// String implements fmt.Stringer.
func (f From) String() string {
	switch f {
	case FromLocal:
		return "local"
	case FromUpstream:
		return "upstream"
	case FromDownstream:
		return "downstream"
	}
	return fmt.Sprintf("from(%d)", int(f))
}

// Result is the routing decision for a packet.
type Result int

// Routing results.
const (
	DeliverSerial Result = iota
	DeliverCommand
	ForwardUpstream
	ForwardDownstream
	DropInvalid
	DropRange
	DropLoop
	DropNoRoute
	DropFull

	NumResults
)

var resultNames = [NumResults]string{
	"deliver-serial",
	"deliver-command",
	"forward-upstream",
	"forward-downstream",
	"drop-invalid",
	"drop-range",
	"drop-loop",
	"drop-no-route",
	"drop-full",
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if r >= 0 && r < NumResults {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Dropped indicates the packet went nowhere.
func (r Result) Dropped() bool {
	return r >= DropInvalid
}

// Enqueuer accepts packets for an adjacent link.
type Enqueuer interface {
	Put(*packet.Packet) bool
}

// Deliverer accepts packets for a local collaborator.
type Deliverer interface {
	PutRecvQueue(*packet.Packet) bool
}

// Handler consumes validated packets.
type Handler interface {
	HandlePacket(*packet.Packet, From)
}

// HandlerFunc is the func form of Handler.
type HandlerFunc func(*packet.Packet, From)

// HandlePacket implements Handler.
func (f HandlerFunc) HandlePacket(pkt *packet.Packet, from From) {
	f(pkt, from)
}

// Router routes packets on one node.
type Router struct {
	// Local is the location of this node.
	Local packet.Location
	// Last is the highest location present in the chain.
	Last packet.Location

	Upstream   Enqueuer
	Downstream Enqueuer
	Serial     Deliverer
	Command    Deliverer

	// RadioEnd is set on the node owning the wireless bridge. Location
	// code 0 names that end of the chain, so packets addressed to it
	// from inside the chain leave through the bridge.
	RadioEnd bool

	counts [NumResults]atomic.Uint64
}

// Route decides and performs the delivery of a packet. The packet is
// copied on delivery, the caller keeps ownership.
func (r *Router) Route(pkt *packet.Packet, from From) Result {
	res := r.route(pkt, from)
	r.counts[res].Add(1)
	if res.Dropped() {
		glog.V(2).Infof("node %d: %s packet from %s: %v", r.Local, res, from, pkt)
	} else if glog.V(3) {
		glog.Infof("node %d: %s packet from %s: %v", r.Local, res, from, pkt)
	}
	return res
}

// HandlePacket implements Handler.
func (r *Router) HandlePacket(pkt *packet.Packet, from From) {
	r.Route(pkt, from)
}

// Count returns the number of packets which got the result.
func (r *Router) Count(res Result) uint64 {
	if res < 0 || res >= NumResults {
		return 0
	}
	return r.counts[res].Load()
}

func (r *Router) route(pkt *packet.Packet, from From) Result {
	if pkt.IsFiller() || !pkt.Valid() {
		return DropInvalid
	}
	dest := pkt.Dest()
	switch {
	case dest > r.Last:
		return DropRange
	case dest == r.Local && (!r.RadioEnd || from == FromUpstream):
		return r.deliver(pkt)
	case dest <= r.Local:
		return r.forward(pkt, r.Upstream, FromUpstream, from)
	default:
		return r.forward(pkt, r.Downstream, FromDownstream, from)
	}
}

func (r *Router) deliver(pkt *packet.Packet) Result {
	target, res := r.Command, DeliverCommand
	if pkt.Type() == packet.TypeSerial {
		target, res = r.Serial, DeliverSerial
	}
	if target == nil {
		return DropNoRoute
	}
	if !target.PutRecvQueue(pkt) {
		return DropFull
	}
	return res
}

func (r *Router) forward(pkt *packet.Packet, target Enqueuer, link, from From) Result {
	if link == from {
		return DropLoop
	}
	if target == nil {
		return DropNoRoute
	}
	if !target.Put(pkt) {
		return DropFull
	}
	if link == FromUpstream {
		return ForwardUpstream
	}
	return ForwardDownstream
}
