// Package link implements both ends of a point-to-point packet link.
//
// A transaction is started by the master asserting select and waiting
// for the slave to confirm on its service-request line. Both sides then
// exchange, byte for byte in full duplex:
//
//	LEN   length of the outbound packet
//	SUM   checksum of the outbound packet
//	DATA  max(inbound, outbound) payload bytes, zero padded
//
// and the master releases select. A slave with something to send asserts
// service-request between transactions to ask the master for one.
// Invalid packets are dropped silently on either side; there is no
// acknowledgement and no retransmission.
package link

import "github.com/robotalks/chainbus/pkg/bus/packet"

// Source provides the outbound packets of a link.
type Source interface {
	Get(*packet.Packet) bool
	Ready() bool
	Readable() <-chan struct{}
}

type xferState int

const (
	stateIdle xferState = iota
	stateLen
	stateSum
	stateData
	stateDone
)

func (s xferState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLen:
		return "len"
	case stateSum:
		return "sum"
	case stateData:
		return "data"
	case stateDone:
		return "done"
	}
	return "unknown"
}
