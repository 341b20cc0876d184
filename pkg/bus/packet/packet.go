package packet

import (
	"fmt"
	"io"
)

// Envelope sizes.
const (
	// MaxPayload is the maximum number of payload bytes in a packet.
	MaxPayload = 20
	// EnvelopeSize is the size of an encoded packet carrying MaxPayload bytes.
	EnvelopeSize = MaxPayload + 2
)

// Location is the 2-bit location code of a node in the chain.
// Codes are ordered from the radio end.
type Location byte

// Predefined locations.
const (
	LocRadio Location = 0
	LocNode1 Location = 1
	LocNode2 Location = 2
	LocNode3 Location = 3

	// LocMax is the largest location code the header can carry.
	LocMax = LocNode3
)

// Type is the 4-bit packet type.
type Type byte

// Packet types.
const (
	TypeSerial  Type = 0
	TypeCommand Type = 1

	// TypeMax is the largest type the header can carry.
	TypeMax Type = 0x0f
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeSerial:
		return "serial"
	case TypeCommand:
		return "command"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Header bit layout of Payload[0].
const (
	destShift   = 6
	destMask    = 0xc0
	sourceShift = 4
	sourceMask  = 0x30
	typeMask    = 0x0f
)

// Packet is the fixed envelope exchanged on every link.
type Packet struct {
	Length   byte
	Checksum byte
	Payload  [MaxPayload]byte
}

// New creates a packet from data, keeping at most MaxPayload bytes.
func New(data []byte) Packet {
	var p Packet
	l := len(data)
	if l > MaxPayload {
		l = MaxPayload
	}
	p.Init(byte(l), data)
	return p
}

// Init copies up to length bytes from data and computes the checksum.
// Bytes beyond len(data) are zero.
func (p *Packet) Init(length byte, data []byte) {
	if length > MaxPayload {
		length = MaxPayload
	}
	p.Length = length
	n := copy(p.Payload[:length], data)
	for i := n; i < MaxPayload; i++ {
		p.Payload[i] = 0
	}
	p.SetChecksum()
}

// Reset turns the packet into a filler.
func (p *Packet) Reset() {
	*p = Packet{}
}

// Sum computes the checksum over the length and the payload.
// The result is meaningless if Length exceeds MaxPayload.
func (p *Packet) Sum() byte {
	l := p.Length
	if l > MaxPayload {
		l = MaxPayload
	}
	sum := p.Length
	for _, b := range p.Payload[:l] {
		sum += b
	}
	return sum
}

// SetChecksum recomputes the checksum.
func (p *Packet) SetChecksum() {
	p.Checksum = p.Sum()
}

// Valid checks the length bound and the checksum.
func (p *Packet) Valid() bool {
	return p.Length <= MaxPayload && p.Checksum == p.Sum()
}

// IsFiller indicates a zero length packet, which is never delivered.
func (p *Packet) IsFiller() bool {
	return p.Length == 0
}

// Data returns the payload bytes covered by Length.
func (p *Packet) Data() []byte {
	l := p.Length
	if l > MaxPayload {
		l = MaxPayload
	}
	return p.Payload[:l]
}

// Body returns the payload following the header byte.
func (p *Packet) Body() []byte {
	if d := p.Data(); len(d) > 1 {
		return d[1:]
	}
	return nil
}

// Dest gets the destination location.
func (p *Packet) Dest() Location {
	return Location((p.Payload[0] & destMask) >> destShift)
}

// Source gets the source location.
func (p *Packet) Source() Location {
	return Location((p.Payload[0] & sourceMask) >> sourceShift)
}

// Type gets the packet type.
func (p *Packet) Type() Type {
	return Type(p.Payload[0] & typeMask)
}

// SetDest sets the destination, keeping source and type.
func (p *Packet) SetDest(loc Location) {
	p.Payload[0] = (p.Payload[0] &^ destMask) | ((byte(loc) << destShift) & destMask)
}

// SetSource sets the source, keeping destination and type.
func (p *Packet) SetSource(loc Location) {
	p.Payload[0] = (p.Payload[0] &^ sourceMask) | ((byte(loc) << sourceShift) & sourceMask)
}

// SetType sets the type, keeping destination and source.
func (p *Packet) SetType(t Type) {
	p.Payload[0] = (p.Payload[0] &^ typeMask) | (byte(t) & typeMask)
}

// SetHeader sets all header fields at once.
// The checksum must be recomputed afterwards.
func (p *Packet) SetHeader(dest, source Location, t Type) {
	p.SetDest(dest)
	p.SetSource(source)
	p.SetType(t)
}

// Bytes returns encoded bytes for sending.
func (p *Packet) Bytes() []byte {
	d := p.Data()
	b := make([]byte, len(d)+2)
	b[0], b[1] = p.Length, p.Checksum
	copy(b[2:], d)
	return b
}

// WriteTo writes encoded bytes.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Bytes())
	return int64(n), err
}

// ReadFrom reads one encoded packet and validates it.
func (p *Packet) ReadFrom(r io.Reader) (n int64, err error) {
	var head [2]byte
	nr, err := io.ReadFull(r, head[:])
	n += int64(nr)
	if err != nil {
		return
	}
	if head[0] > MaxPayload {
		return n, ErrTooLong
	}
	p.Reset()
	p.Length, p.Checksum = head[0], head[1]
	nr, err = io.ReadFull(r, p.Payload[:p.Length])
	n += int64(nr)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return
	}
	if !p.Valid() {
		err = ErrChecksum
	}
	return
}

// Decode parses an encoded packet.
func Decode(b []byte) (p Packet, err error) {
	if len(b) < 2 {
		return p, ErrShortPacket
	}
	if b[0] > MaxPayload {
		return p, ErrTooLong
	}
	if len(b) < int(b[0])+2 {
		return p, ErrShortPacket
	}
	p.Length, p.Checksum = b[0], b[1]
	copy(p.Payload[:p.Length], b[2:])
	if !p.Valid() {
		return p, ErrChecksum
	}
	return p, nil
}

// String implements fmt.Stringer.
func (p Packet) String() string {
	if p.Length == 0 {
		return "filler"
	}
	return fmt.Sprintf("%d->%d %s len=%d sum=%02x % x",
		p.Source(), p.Dest(), p.Type(), p.Length, p.Checksum, p.Body())
}
