package link

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/router"
	"github.com/robotalks/chainbus/pkg/hw"
)

// Master defaults.
const (
	DefaultHandshakeSpins = 2500
	DefaultPollInterval   = 5 * time.Millisecond
)

// Master is the active end of a link.
type Master struct {
	Name string
	Port hw.MasterPort
	Bus  *hw.SharedBus
	Out  Source
	From router.From

	// HandshakeSpins bounds the busy-wait for the slave to confirm a select.
	HandshakeSpins int
	// PollInterval is the period Run re-checks the link without being woken.
	PollInterval time.Duration
	Clock        clock.Clock

	Stats Stats
}

// NewMaster creates a master engine with default timing.
func NewMaster(name string, port hw.MasterPort, bus *hw.SharedBus, out Source, from router.From) *Master {
	return &Master{
		Name:           name,
		Port:           port,
		Bus:            bus,
		Out:            out,
		From:           from,
		HandshakeSpins: DefaultHandshakeSpins,
		PollInterval:   DefaultPollInterval,
		Clock:          clock.New(),
	}
}

// Pending indicates a transaction is wanted: the slave requests service
// or there is something to send.
func (m *Master) Pending() bool {
	return m.Port.ServiceRequested() || m.Out.Ready()
}

// Transact runs one transaction. When the slave has nothing to send and
// the outbound queue is empty, a filler is exchanged. On a handshake
// timeout nothing is consumed from the outbound queue.
// Once select is asserted the transaction is never abandoned, ctx is
// only checked before acquiring the bus.
func (m *Master) Transact(ctx context.Context, h router.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Bus != nil {
		release := m.Bus.Acquire(hw.PriorityPacket)
		defer release()
	}

	m.Port.SetSelect(true)
	for spins := 0; !m.Port.ServiceRequested(); spins++ {
		if spins >= m.HandshakeSpins {
			m.Port.SetSelect(false)
			m.Stats.Timeouts.Add(1)
			return ErrHandshakeTimeout
		}
		runtime.Gosched()
	}

	var out, in packet.Packet
	sent := m.Out.Get(&out)
	in.Length = m.Port.Transfer(out.Length)
	in.Checksum = m.Port.Transfer(out.Checksum)
	if in.Length > packet.MaxPayload {
		in.Length = 0
	}
	n := in.Length
	if out.Length > n {
		n = out.Length
	}
	for i := byte(0); i < n; i++ {
		var b byte
		if i < out.Length {
			b = out.Payload[i]
		}
		b = m.Port.Transfer(b)
		if i < in.Length {
			in.Payload[i] = b
		}
	}
	m.Port.SetSelect(false)
	m.Stats.Transactions.Add(1)
	if sent {
		m.Stats.Sent.Add(1)
		glog.V(4).Infof("link %s: sent %v", m.Name, out)
	}

	if in.IsFiller() {
		return nil
	}
	if !in.Valid() {
		m.Stats.Invalid.Add(1)
		return &TransferError{Link: m.Name, Packet: in, Err: packet.ErrChecksum}
	}
	m.Stats.Received.Add(1)
	glog.V(4).Infof("link %s: received %v", m.Name, in)
	h.HandlePacket(&in, m.From)
	return nil
}

// Run drives transactions until ctx is done. Failed transactions are
// logged and retried on the next pass.
func (m *Master) Run(ctx context.Context, h router.Handler) error {
	ticker := m.Clock.Ticker(m.PollInterval)
	defer ticker.Stop()
	for {
		for m.Pending() {
			err := m.Transact(ctx, h)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrHandshakeTimeout) {
				glog.V(1).Infof("link %s: %v", m.Name, err)
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			glog.Warningf("link %s: %v", m.Name, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.Out.Readable():
		case <-m.Port.Notify():
		case <-ticker.C:
		}
	}
}
