// Package packet provides the bus packet codec.
package packet

// Every message exchanged between controllers travels in a fixed 22-byte
// envelope: a length byte, a checksum byte and up to 20 payload bytes.
// The routing header is folded into the first payload byte so the
// envelope matches both the wireless attribute size limit and the width
// of the hardware transfer FIFO.
//
// The checksum is a plain 8-bit wraparound sum of the length and the
// payload. It detects any single bit error, nothing more. There is no
// sequence number and no acknowledgement: a corrupted packet is dropped
// and the producer is expected to send a fresher one later.
