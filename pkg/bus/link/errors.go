package link

import (
	"errors"
	"fmt"

	"github.com/robotalks/chainbus/pkg/bus/packet"
)

var (
	// ErrHandshakeTimeout indicates the slave never confirmed the select.
	ErrHandshakeTimeout = errors.New("handshake timeout")
)

// TransferError reports a transaction which completed on the wire but
// delivered an unusable packet.
type TransferError struct {
	Link   string
	Packet packet.Packet
	Err    error
}

// Error implements error.
func (e *TransferError) Error() string {
	return fmt.Sprintf("link %s: %v: %v", e.Link, e.Err, e.Packet)
}

// Unwrap returns the underlying error.
func (e *TransferError) Unwrap() error {
	return e.Err
}
