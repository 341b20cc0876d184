package link

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/router"
	fx "github.com/robotalks/chainbus/pkg/framework"
	"github.com/robotalks/chainbus/pkg/hw"
)

// Slave is the passive end of a link.
//
// Select, Exchange and Deselect are driven by the peripheral (interrupt
// context) and only touch the state of the engine. Everything touching
// queues or the router happens in Service, on the thread side.
//
// After a valid packet is received the engine masks itself: further
// selects are refused until Service has handed the packet over, and the
// master sees a handshake timeout.
type Slave struct {
	Name  string
	Port  hw.SlavePort
	Out   Source
	From  router.From
	Stats Stats

	lock     sync.Mutex
	state    xferState
	selected bool
	masked   bool

	out      packet.Packet
	loaded   bool
	carrying bool
	outLen   byte
	outCount byte
	in       packet.Packet
	inCount  byte
	latched  bool
	wake     *fx.Signal
}

// NewSlave creates a slave engine. Packets received are reported as
// coming from the given direction.
func NewSlave(name string, port hw.SlavePort, out Source, from router.From) *Slave {
	return &Slave{
		Name: name,
		Port: port,
		Out:  out,
		From: from,
		wake: fx.NewSignal(),
	}
}

// Wake is raised at the end of every transaction.
func (s *Slave) Wake() <-chan struct{} {
	return s.wake.C()
}

// Masked indicates a received packet is waiting for Service.
func (s *Slave) Masked() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.masked
}

// Select starts a transaction. It returns false if the engine is masked.
func (s *Slave) Select() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.selected = true
	if s.masked {
		s.Stats.Refused.Add(1)
		return false
	}
	s.begin()
	return true
}

// begin arms a transaction and confirms it to the master.
func (s *Slave) begin() {
	s.state = stateLen
	s.carrying = false
	s.outLen, s.outCount, s.inCount = 0, 0, 0
	s.in.Reset()
	s.Port.SetServiceRequest(true)
}

// Exchange shifts one byte in each direction.
func (s *Slave) Exchange(in byte) (out byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch s.state {
	case stateLen:
		if s.loaded {
			s.carrying, s.outLen = true, s.out.Length
		}
		out, s.in.Length = s.outLen, in
		s.state = stateSum
	case stateSum:
		if s.carrying {
			out = s.out.Checksum
		}
		s.in.Checksum = in
		if s.in.Length > packet.MaxPayload {
			s.in.Length = 0
		}
		s.state = stateData
		s.checkDone()
	case stateData:
		if s.outCount < s.outLen {
			out = s.out.Payload[s.outCount]
			s.outCount++
		}
		if s.inCount < s.in.Length {
			s.in.Payload[s.inCount] = in
			s.inCount++
		}
		s.checkDone()
	}
	return
}

func (s *Slave) checkDone() {
	if s.outCount >= s.outLen && s.inCount >= s.in.Length {
		s.state = stateDone
	}
}

// Deselect ends a transaction.
func (s *Slave) Deselect() {
	s.lock.Lock()
	s.selected = false
	if s.state == stateIdle {
		s.lock.Unlock()
		return
	}
	s.Port.SetServiceRequest(false)
	s.Stats.Transactions.Add(1)
	if s.state == stateDone {
		if s.carrying {
			s.loaded = false
			s.Stats.Sent.Add(1)
		}
		if s.in.Length > 0 {
			if s.in.Valid() {
				s.latched, s.masked = true, true
				s.Stats.Received.Add(1)
			} else {
				s.Stats.Invalid.Add(1)
			}
		}
	}
	s.state = stateIdle
	s.lock.Unlock()
	s.wake.Raise()
}

// Service hands over the received packet, refills the outbound slot and
// re-arms the engine. It must be called from a single task.
func (s *Slave) Service(h router.Handler) {
	var pkt packet.Packet
	s.lock.Lock()
	received := s.latched
	if received {
		pkt, s.latched = s.in, false
	}
	refill := !s.loaded
	s.lock.Unlock()

	if received {
		glog.V(4).Infof("link %s: received %v", s.Name, pkt)
		h.HandlePacket(&pkt, s.From)
	}

	var next packet.Packet
	if refill && s.Out.Get(&next) {
		glog.V(4).Infof("link %s: loaded %v", s.Name, next)
	} else {
		refill = false
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if refill {
		s.out, s.loaded = next, true
	}
	if s.latched {
		return
	}
	s.masked = false
	if s.state != stateIdle {
		return
	}
	if s.selected {
		// the master is still waiting for the handshake of a refused select
		s.begin()
	} else if s.loaded {
		s.Port.SetServiceRequest(true)
	}
}

// Pending indicates there is work for Service.
func (s *Slave) Pending() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.latched || (!s.loaded && s.Out.Ready())
}

// Run services the engine until ctx is done.
func (s *Slave) Run(ctx context.Context, h router.Handler) error {
	for {
		s.Service(h)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake.C():
		case <-s.Out.Readable():
		}
	}
}
