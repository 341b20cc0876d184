package mqtt

import (
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/chainbus/pkg/radio"
)

// Topics of a node, relative to the connection prefix.
const (
	TopicNotify = "notify"
	TopicWrite  = "write"
	TopicCCCD   = "cccd"
	TopicMeta   = "meta"
)

// Meta is published retained on the meta topic of a node so peers can
// discover it.
type Meta struct {
	ID   string `json:"id"`
	Last int    `json:"last"`
}

// NodeTopic builds the topic of a node.
func NodeTopic(node, name string) string {
	return node + "/" + name
}

// NodeFromTopic extracts the node from a topic built by NodeTopic.
func NodeFromTopic(topic string) string {
	if pos := strings.LastIndex(topic, "/"); pos >= 0 {
		return topic[:pos]
	}
	return ""
}

// Stack implements radio.Stack on a Broker. The peer enables
// notifications by publishing a client characteristic configuration
// value on the cccd topic, bit 0 set means enabled.
type Stack struct {
	Broker Broker
	Node   string
	Events radio.Events

	subs []*Subscription
}

// NewStack creates a Stack for the node.
func NewStack(broker Broker, node string, events radio.Events) *Stack {
	return &Stack{Broker: broker, Node: node, Events: events}
}

// Start subscribes the topics of the node and reports the link up.
func (s *Stack) Start() error {
	for _, sub := range []*Subscription{
		s.Broker.Sub(NodeTopic(s.Node, TopicWrite), s.handleWrite),
		s.Broker.Sub(NodeTopic(s.Node, TopicCCCD), s.handleCCCD),
	} {
		s.subs = append(s.subs, sub)
		if sub.Token != nil && sub.Token.Wait() && sub.Token.Error() != nil {
			return sub.Token.Error()
		}
	}
	s.Events.Connected()
	return nil
}

// Close unsubscribes the topics and reports the link down.
func (s *Stack) Close() error {
	s.Events.Disconnected()
	var err error
	for _, sub := range s.subs {
		if e := sub.Close(); e != nil && err == nil {
			err = e
		}
	}
	s.subs = nil
	return err
}

// Suspend reports the broker connection lost. The peer subscription
// survives when the Events are radio.Resumable.
func (s *Stack) Suspend() {
	if r, ok := s.Events.(radio.Resumable); ok {
		r.Suspended()
		return
	}
	s.Events.Disconnected()
}

// Resume reports the broker connection restored.
func (s *Stack) Resume() {
	if r, ok := s.Events.(radio.Resumable); ok {
		r.Resumed()
		return
	}
	s.Events.Connected()
}

// Notify implements radio.Stack. Completion is reported once the
// broker has taken the message.
func (s *Stack) Notify(handle uint16, data []byte) error {
	payload, err := EncodeEnvelope(handle, data)
	if err != nil {
		return err
	}
	token := s.Broker.Pub(NodeTopic(s.Node, TopicNotify), payload)
	go func() {
		if token.Wait(); token.Error() != nil {
			glog.Warningf("mqtt: notify %s: %v", s.Node, token.Error())
		}
		s.Events.Completed(1)
	}()
	return nil
}

func (s *Stack) handleWrite(topic string, payload []byte) {
	env, err := DecodeEnvelope(payload)
	if err != nil {
		glog.Warningf("mqtt: %s: invalid envelope: %v", topic, err)
		return
	}
	if err = s.Events.Written(env.Value); err != nil {
		glog.Warningf("mqtt: %s: %v", topic, err)
	}
}

func (s *Stack) handleCCCD(topic string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	s.Events.Subscribed(payload[0]&0x01 != 0)
}
