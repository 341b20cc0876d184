// Package websocket carries the wireless link over a websocket: one
// peer at a time, binary frames hold the notified or written values.
package websocket

import (
	"errors"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/chainbus/pkg/radio"
)

// ErrPeerBusy is returned to a second peer trying to connect.
var ErrPeerBusy = errors.New("peer already connected")

// Stack implements radio.Stack and serves the peer as an http.Handler.
// A connected peer is considered subscribed to notifications.
type Stack struct {
	Events radio.Events

	lock sync.Mutex
	conn *websocket.Conn
}

// NewStack creates a Stack.
func NewStack(events radio.Events) *Stack {
	return &Stack{Events: events}
}

// ServeHTTP implements http.Handler.
func (s *Stack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(s.serve).ServeHTTP(w, r)
}

func (s *Stack) serve(conn *websocket.Conn) {
	defer conn.Close()
	s.lock.Lock()
	if s.conn != nil {
		s.lock.Unlock()
		glog.Warningf("websocket: reject %s: %v", conn.Request().RemoteAddr, ErrPeerBusy)
		return
	}
	s.conn = conn
	s.lock.Unlock()

	glog.Infof("websocket: peer %s connected", conn.Request().RemoteAddr)
	s.Events.Connected()
	s.Events.Subscribed(true)
	err := s.receive(conn)
	glog.Infof("websocket: peer %s disconnected: %v", conn.Request().RemoteAddr, err)

	s.lock.Lock()
	s.conn = nil
	s.lock.Unlock()
	s.Events.Disconnected()
}

func (s *Stack) receive(conn *websocket.Conn) error {
	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return err
		}
		if err := s.Events.Written(data); err != nil {
			glog.Warningf("websocket: %v", err)
		}
	}
}

// Notify implements radio.Stack.
func (s *Stack) Notify(handle uint16, data []byte) error {
	s.lock.Lock()
	conn := s.conn
	s.lock.Unlock()
	if conn == nil {
		return radio.ErrTryLater
	}
	if err := websocket.Message.Send(conn, data); err != nil {
		return err
	}
	s.Events.Completed(1)
	return nil
}
