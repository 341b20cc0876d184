package sim

import (
	"github.com/robotalks/chainbus/pkg/bus/packet"
	fx "github.com/robotalks/chainbus/pkg/framework"
	"github.com/robotalks/chainbus/pkg/node"
)

// Chain is a complete chain of nodes wired in process: node 0 owns the
// radio, node i is the master of the wire to node i+1.
type Chain struct {
	Nodes []*node.Node
	Wires []*Wire
	Air   *Air
}

// NewChain creates nodes 0 to last. The configure func, if not nil, may
// adjust the config of each node before it is created.
func NewChain(last packet.Location, configure func(*node.Config)) *Chain {
	c := &Chain{}
	for loc := packet.LocRadio; loc <= last; loc++ {
		conf := node.DefaultConfig(loc, last)
		if configure != nil {
			configure(&conf)
		}
		c.Nodes = append(c.Nodes, node.New(conf))
	}

	bridge := c.Nodes[0].AttachRadio(nil)
	c.Air = NewAir(bridge.Buffers)
	c.Air.Bind(bridge)
	bridge.Stack = c.Air

	for i := 1; i < len(c.Nodes); i++ {
		w := NewWire()
		c.Nodes[i-1].AttachDownstream(w)
		w.Attach(c.Nodes[i].AttachUpstream(w))
		c.Wires = append(c.Wires, w)
	}
	return c
}

// Node returns the node at the location.
func (c *Chain) Node(loc packet.Location) *node.Node {
	return c.Nodes[loc]
}

// AddTasks implements fx.TaskAdder.
func (c *Chain) AddTasks(r *fx.Runner) {
	for _, n := range c.Nodes {
		r.Add(n)
	}
}
