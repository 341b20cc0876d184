package mqtt

import (
	"github.com/golang/protobuf/proto"
)

// Envelope is the message published on the notify topic and received on
// the write topic. It mirrors a characteristic operation: the attribute
// handle and its value.
type Envelope struct {
	Handle uint32 `protobuf:"varint,1,opt,name=handle,proto3" json:"handle,omitempty"`
	Value  []byte `protobuf:"bytes,2,opt,name=value,proto3" json:"value,omitempty"`
}

// Reset implements proto.Message.
func (m *Envelope) Reset() { *m = Envelope{} }

// String implements proto.Message.
func (m *Envelope) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Envelope) ProtoMessage() {}

// EncodeEnvelope encodes a value for the attribute handle.
func EncodeEnvelope(handle uint16, value []byte) ([]byte, error) {
	return proto.Marshal(&Envelope{Handle: uint32(handle), Value: value})
}

// DecodeEnvelope decodes an envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var m Envelope
	if err := proto.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
