// Package stream carries the wireless link over a byte stream such as a
// TCP connection. Each frame is prefixed by 4-byte (little-endian) length
// and starts with a kind byte.
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/chainbus/pkg/framework"
	"github.com/robotalks/chainbus/pkg/radio"
)

// Frame kinds.
const (
	// FrameValue carries a notified or written value.
	FrameValue byte = 0x01
	// FrameCCCD carries the client characteristic configuration, bit 0
	// set means notifications enabled.
	FrameCCCD byte = 0x02

	// MaxFrame bounds the size of a frame, kind included.
	MaxFrame = 64
)

var (
	// ErrFrameTooLarge indicates a frame beyond MaxFrame.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrNotConnected is returned by Notify without a peer.
	ErrNotConnected = errors.New("no peer connected")
	// ErrPeerBusy is returned to a second peer.
	ErrPeerBusy = errors.New("peer already connected")
)

// ReadWriter reads and writes frames.
type ReadWriter struct {
	io.ReadWriter
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{s}
}

// ReadFrame reads one frame.
func (p *ReadWriter) ReadFrame() (kind byte, data []byte, err error) {
	var size uint32
	if err = binary.Read(p, binary.LittleEndian, &size); err != nil {
		return
	}
	if size == 0 || size > MaxFrame {
		return 0, nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, size)
	}
	frame := make([]byte, size)
	if _, err = io.ReadFull(p, frame); err != nil {
		return
	}
	return frame[0], frame[1:], nil
}

// WriteFrame writes one frame.
func (p *ReadWriter) WriteFrame(kind byte, data []byte) error {
	size := uint32(len(data) + 1)
	if size > MaxFrame {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, size)
	}
	frame := make([]byte, 4, 4+size)
	binary.LittleEndian.PutUint32(frame, size)
	frame = append(append(frame, kind), data...)
	_, err := p.Write(frame)
	return err
}

// Stack implements radio.Stack for one peer at a time.
type Stack struct {
	Events radio.Events

	lock sync.Mutex
	rw   *ReadWriter
}

// NewStack creates a Stack.
func NewStack(events radio.Events) *Stack {
	return &Stack{Events: events}
}

// Serve runs the peer on conn until the stream fails or ctx is done.
func (s *Stack) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	rw := New(conn)
	s.lock.Lock()
	if s.rw != nil {
		s.lock.Unlock()
		conn.Close()
		return ErrPeerBusy
	}
	s.rw = rw
	s.lock.Unlock()

	s.Events.Connected()
	defer func() {
		s.lock.Lock()
		s.rw = nil
		s.lock.Unlock()
		s.Events.Disconnected()
	}()
	return fx.RunWithContextCloser(ctx, conn, func() error {
		for {
			kind, data, err := rw.ReadFrame()
			if err != nil {
				return err
			}
			s.handleFrame(kind, data)
		}
	})
}

// ListenAndServe accepts peers from l one after another.
func (s *Stack) ListenAndServe(ctx context.Context, l net.Listener) error {
	return fx.RunWithContextCloser(ctx, l, func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				return err
			}
			glog.Infof("stream: peer %s connected", conn.RemoteAddr())
			err = s.Serve(ctx, conn)
			glog.Infof("stream: peer %s disconnected: %v", conn.RemoteAddr(), err)
		}
	})
}

func (s *Stack) handleFrame(kind byte, data []byte) {
	switch kind {
	case FrameValue:
		if err := s.Events.Written(data); err != nil {
			glog.Warningf("stream: %v", err)
		}
	case FrameCCCD:
		if len(data) > 0 {
			s.Events.Subscribed(data[0]&0x01 != 0)
		}
	default:
		glog.Warningf("stream: unknown frame kind %02x", kind)
	}
}

// Notify implements radio.Stack. The value is complete once written to
// the stream.
func (s *Stack) Notify(handle uint16, data []byte) error {
	s.lock.Lock()
	rw := s.rw
	var err error
	if rw == nil {
		err = ErrNotConnected
	} else {
		err = rw.WriteFrame(FrameValue, data)
	}
	s.lock.Unlock()
	if err != nil {
		return err
	}
	s.Events.Completed(1)
	return nil
}
