// Package command dispatches COMMAND packets delivered to a node and
// routes replies back to the sender.
//
// Payload layout: header, command code, arguments. A reply carries the
// code of the request with ReplyFlag set, replies are never dispatched.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/bus/packet"
	"github.com/robotalks/chainbus/pkg/bus/queue"
	"github.com/robotalks/chainbus/pkg/bus/router"
)

// RecvSlots is the size of the receive queue.
const RecvSlots = 4

// MaxArgs is the maximum size of arguments or a reply.
const MaxArgs = packet.MaxPayload - 2

// Built-in command codes.
const (
	CodePing byte = 0x00
	CodeInfo byte = 0x01

	// ReplyFlag marks the code of a reply.
	ReplyFlag byte = 0x80
)

// ErrUnknownCommand indicates no handler is registered for the code.
var ErrUnknownCommand = errors.New("unknown command")

var errShortCommand = errors.New("short command packet")

// Request is a received command.
type Request struct {
	Source packet.Location
	Code   byte
	Args   []byte
}

// Handler executes a command. A non-nil reply is sent back to the source.
type Handler interface {
	HandleCommand(ctx context.Context, req *Request) (reply []byte, err error)
}

// HandlerFunc is the func form of Handler.
type HandlerFunc func(ctx context.Context, req *Request) ([]byte, error)

// HandleCommand implements Handler.
func (f HandlerFunc) HandleCommand(ctx context.Context, req *Request) ([]byte, error) {
	return f(ctx, req)
}

// Sender routes locally produced packets.
type Sender interface {
	Route(*packet.Packet, router.From) router.Result
}

// Dispatcher runs commands received by a node and matches replies to
// the commands it sent.
type Dispatcher struct {
	Local  packet.Location
	Sender Sender

	recv     *queue.Queue
	lock     sync.RWMutex
	handlers map[byte]Handler
	calls    []*call
}

type call struct {
	dest  packet.Location
	code  byte
	reply chan []byte
}

// NewDispatcher creates a Dispatcher with the built-in ping command,
// which replies with its arguments.
func NewDispatcher(local packet.Location, sender Sender) *Dispatcher {
	d := &Dispatcher{
		Local:    local,
		Sender:   sender,
		recv:     queue.New("command-recv", RecvSlots, queue.DropOldest),
		handlers: make(map[byte]Handler),
	}
	d.Handle(CodePing, HandlerFunc(func(_ context.Context, req *Request) ([]byte, error) {
		return append([]byte{}, req.Args...), nil
	}))
	return d
}

// RecvQueue returns the receive queue.
func (d *Dispatcher) RecvQueue() *queue.Queue {
	return d.recv
}

// Handle registers the handler of a command code, replacing the existing one.
func (d *Dispatcher) Handle(code byte, h Handler) {
	d.lock.Lock()
	d.handlers[code] = h
	d.lock.Unlock()
}

// PutRecvQueue implements router.Deliverer.
func (d *Dispatcher) PutRecvQueue(pkt *packet.Packet) bool {
	if pkt.Length < 2 {
		return false
	}
	return d.recv.Put(pkt)
}

// Run executes received commands until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	var pkt packet.Packet
	for {
		if err := d.recv.GetWait(ctx, &pkt); err != nil {
			return err
		}
		if err := d.Dispatch(ctx, &pkt); err != nil {
			glog.Warningf("node %d: command %v: %v", d.Local, pkt, err)
		}
	}
}

// Dispatch executes one command packet and sends the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, pkt *packet.Packet) error {
	data := pkt.Data()
	if len(data) < 2 {
		return errShortCommand
	}
	req := &Request{Source: pkt.Source(), Code: data[1], Args: data[2:]}
	if req.Code&ReplyFlag != 0 {
		d.complete(req)
		return nil
	}
	d.lock.RLock()
	h := d.handlers[req.Code]
	d.lock.RUnlock()
	if h == nil {
		return fmt.Errorf("%w %02x", ErrUnknownCommand, req.Code)
	}
	reply, err := h.HandleCommand(ctx, req)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if len(reply) > MaxArgs {
		glog.Warningf("node %d: command %02x reply truncated from %d bytes", d.Local, req.Code, len(reply))
		reply = reply[:MaxArgs]
	}
	out := NewPacket(req.Source, d.Local, req.Code|ReplyFlag, reply)
	if res := d.Sender.Route(&out, router.FromLocal); res.Dropped() {
		return fmt.Errorf("reply %s", res)
	}
	return nil
}

// Call sends a command to dest and waits for the reply arguments.
func (d *Dispatcher) Call(ctx context.Context, dest packet.Location, code byte, args []byte) ([]byte, error) {
	if code&ReplyFlag != 0 {
		return nil, fmt.Errorf("%w %02x", ErrUnknownCommand, code)
	}
	c := &call{dest: dest, code: code, reply: make(chan []byte, 1)}
	d.lock.Lock()
	d.calls = append(d.calls, c)
	d.lock.Unlock()
	defer d.removeCall(c)

	pkt := NewPacket(dest, d.Local, code, args)
	if res := d.Sender.Route(&pkt, router.FromLocal); res.Dropped() {
		return nil, fmt.Errorf("command %02x to %d: %s", code, dest, res)
	}
	select {
	case reply := <-c.reply:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) complete(req *Request) {
	code := req.Code &^ ReplyFlag
	d.lock.Lock()
	for i, c := range d.calls {
		if c.dest == req.Source && c.code == code {
			d.calls = append(d.calls[:i], d.calls[i+1:]...)
			d.lock.Unlock()
			c.reply <- append([]byte(nil), req.Args...)
			return
		}
	}
	d.lock.Unlock()
	glog.V(2).Infof("node %d: unexpected reply %02x from %d", d.Local, code, req.Source)
}

func (d *Dispatcher) removeCall(c *call) {
	d.lock.Lock()
	defer d.lock.Unlock()
	for i, item := range d.calls {
		if item == c {
			d.calls = append(d.calls[:i], d.calls[i+1:]...)
			return
		}
	}
}

// NewPacket builds a COMMAND packet.
func NewPacket(dest, source packet.Location, code byte, args []byte) packet.Packet {
	if len(args) > MaxArgs {
		args = args[:MaxArgs]
	}
	var pkt packet.Packet
	pkt.Init(byte(len(args)+2), append([]byte{0, code}, args...))
	pkt.SetHeader(dest, source, packet.TypeCommand)
	pkt.SetChecksum()
	return pkt
}
