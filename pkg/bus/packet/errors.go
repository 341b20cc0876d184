package packet

import "errors"

var (
	// ErrTooLong indicates a declared length beyond MaxPayload.
	ErrTooLong = errors.New("packet too long")
	// ErrShortPacket indicates fewer bytes than the declared length.
	ErrShortPacket = errors.New("short packet")
	// ErrChecksum indicates a checksum mismatch.
	ErrChecksum = errors.New("checksum mismatch")
)
