package sh

import (
	"context"
	"sync"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/command"
	"github.com/robotalks/chainbus/pkg/radio"
	"github.com/robotalks/chainbus/pkg/radio/mqtt"
)

// Peer plays the wireless peer of a chain over a broker: it enables
// notifications, writes packets and matches command replies.
type Peer struct {
	Broker mqtt.Broker
	ID     string
	Handle uint16

	// OnPacket receives notified packets which are not command replies
	// being waited for.
	OnPacket func(packet.Packet)

	lock    sync.Mutex
	waiters []*waiter
	sub     *mqtt.Subscription
}

type waiter struct {
	source packet.Location
	code   byte
	ch     chan packet.Packet
}

// NewPeer creates a Peer of the chain with the ID.
func NewPeer(broker mqtt.Broker, id string) *Peer {
	return &Peer{Broker: broker, ID: id, Handle: radio.DefaultHandle}
}

// Open subscribes the notifications and enables them on the chain.
func (p *Peer) Open() error {
	p.sub = p.Broker.Sub(mqtt.NodeTopic(p.ID, mqtt.TopicNotify), p.handleNotify)
	if p.sub.Token != nil && p.sub.Token.Wait() && p.sub.Token.Error() != nil {
		return p.sub.Token.Error()
	}
	return p.publish(mqtt.TopicCCCD, []byte{0x01, 0x00})
}

// Close disables the notifications.
func (p *Peer) Close() error {
	err := p.publish(mqtt.TopicCCCD, []byte{0x00, 0x00})
	if p.sub != nil {
		p.sub.Close()
		p.sub = nil
	}
	return err
}

// Write sends one packet to the chain.
func (p *Peer) Write(pkt *packet.Packet) error {
	payload, err := mqtt.EncodeEnvelope(p.Handle, pkt.Data())
	if err != nil {
		return err
	}
	return p.publish(mqtt.TopicWrite, payload)
}

// SendSerial splits data into SERIAL packets to dest.
func (p *Peer) SendSerial(dest packet.Location, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > packet.MaxPayload-1 {
			n = packet.MaxPayload - 1
		}
		var pkt packet.Packet
		pkt.Init(byte(n+1), append([]byte{0}, data[:n]...))
		pkt.SetHeader(dest, packet.LocRadio, packet.TypeSerial)
		pkt.SetChecksum()
		if err := p.Write(&pkt); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Command sends a COMMAND packet to dest and waits for the reply to the
// code from dest.
func (p *Peer) Command(ctx context.Context, dest packet.Location, code byte, args []byte) (packet.Packet, error) {
	w := &waiter{source: dest, code: code | command.ReplyFlag, ch: make(chan packet.Packet, 1)}
	p.lock.Lock()
	p.waiters = append(p.waiters, w)
	p.lock.Unlock()
	defer p.removeWaiter(w)

	pkt := command.NewPacket(dest, packet.LocRadio, code, args)
	if err := p.Write(&pkt); err != nil {
		return pkt, err
	}
	select {
	case reply := <-w.ch:
		return reply, nil
	case <-ctx.Done():
		return pkt, ctx.Err()
	}
}

func (p *Peer) removeWaiter(w *waiter) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i, item := range p.waiters {
		if item == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Peer) publish(name string, payload []byte) error {
	token := p.Broker.Pub(mqtt.NodeTopic(p.ID, name), payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (p *Peer) handleNotify(topic string, payload []byte) {
	env, err := mqtt.DecodeEnvelope(payload)
	if err != nil {
		return
	}
	pkt := packet.New(env.Value)
	if pkt.Type() == packet.TypeCommand && pkt.Length >= 2 {
		p.lock.Lock()
		for i, w := range p.waiters {
			if w.source == pkt.Source() && w.code == pkt.Payload[1] {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.lock.Unlock()
				w.ch <- pkt
				return
			}
		}
		p.lock.Unlock()
	}
	if fn := p.OnPacket; fn != nil {
		fn(pkt)
	}
}
