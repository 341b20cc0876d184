package packet

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func TestChecksumRoundTrip(t *testing.T) {
	patterns := []func(int) []byte{
		testPayload,
		func(n int) []byte { return bytes.Repeat([]byte{0xff}, n) },
		func(n int) []byte { return make([]byte, n) },
		func(n int) []byte { return bytes.Repeat([]byte{0xa5, 0x5a}, n)[:n] },
	}
	for _, pattern := range patterns {
		for l := 0; l <= MaxPayload; l++ {
			var p Packet
			p.Init(byte(l), pattern(l))
			require.True(t, p.Valid(), "length %d", l)
			require.Equal(t, byte(l), p.Length)
		}
	}
}

func TestChecksumDetectsPayloadBitFlip(t *testing.T) {
	for l := 1; l <= MaxPayload; l++ {
		p := New(testPayload(l))
		for i := 0; i < l; i++ {
			for bit := uint(0); bit < 8; bit++ {
				corrupted := p
				corrupted.Payload[i] ^= 1 << bit
				require.False(t, corrupted.Valid(), "length %d byte %d bit %d", l, i, bit)
			}
		}
	}
}

func TestChecksumDetectsLengthBitFlip(t *testing.T) {
	for l := 0; l <= MaxPayload; l++ {
		p := New(testPayload(l))
		for bit := uint(0); bit < 8; bit++ {
			corrupted := p
			corrupted.Length ^= 1 << bit
			require.False(t, corrupted.Valid(), "length %d bit %d", l, bit)
		}
	}
}

func TestChecksumIgnoresBytesBeyondLength(t *testing.T) {
	p := New([]byte{1, 2, 3})
	p.Payload[10] = 0x55
	require.True(t, p.Valid())
}

func TestInitClampsLength(t *testing.T) {
	var p Packet
	p.Init(30, testPayload(30))
	require.Equal(t, byte(MaxPayload), p.Length)
	require.True(t, p.Valid())

	p.Init(4, []byte{9})
	require.Equal(t, []byte{9, 0, 0, 0}, p.Data())
	require.True(t, p.Valid())
}

func TestHeaderRoundTrip(t *testing.T) {
	for dest := Location(0); dest <= LocMax; dest++ {
		for src := Location(0); src <= LocMax; src++ {
			for typ := Type(0); typ <= TypeMax; typ++ {
				var p Packet
				p.SetHeader(dest, src, typ)
				require.Equal(t, dest, p.Dest())
				require.Equal(t, src, p.Source())
				require.Equal(t, typ, p.Type())

				p.SetDest(LocMax - dest)
				require.Equal(t, LocMax-dest, p.Dest())
				require.Equal(t, src, p.Source())
				require.Equal(t, typ, p.Type())

				p.SetSource(LocMax - src)
				require.Equal(t, LocMax-dest, p.Dest())
				require.Equal(t, LocMax-src, p.Source())
				require.Equal(t, typ, p.Type())

				p.SetType(TypeMax - typ)
				require.Equal(t, LocMax-dest, p.Dest())
				require.Equal(t, LocMax-src, p.Source())
				require.Equal(t, TypeMax-typ, p.Type())
			}
		}
	}
}

func TestHeaderMasksOutOfRange(t *testing.T) {
	var p Packet
	p.SetHeader(LocNode2, LocNode1, TypeCommand)
	p.SetDest(Location(0x07))
	p.SetType(Type(0x31))
	require.Equal(t, LocNode3, p.Dest())
	require.Equal(t, LocNode1, p.Source())
	require.Equal(t, TypeCommand, p.Type())
	require.Equal(t, byte(0xd1), p.Payload[0])
}

func TestPacketWire(t *testing.T) {
	testCases := []struct {
		name   string
		data   []byte
		expect []byte
	}{
		{"filler", nil, []byte{0, 0}},
		{"header only", []byte{0x80}, []byte{1, 0x81, 0x80}},
		{"small data", []byte{0x10, 1, 2}, []byte{3, 0x16, 0x10, 1, 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(tc.data)
			require.Equal(t, tc.expect, p.Bytes())

			var buf bytes.Buffer
			n, err := p.WriteTo(&buf)
			require.NoError(t, err)
			require.Equal(t, int64(len(tc.expect)), n)
			require.Equal(t, tc.expect, buf.Bytes())

			var read Packet
			n, err = read.ReadFrom(&buf)
			require.NoError(t, err)
			require.Equal(t, int64(len(tc.expect)), n)
			require.Equal(t, p, read)

			decoded, err := Decode(tc.expect)
			require.NoError(t, err)
			require.Equal(t, p, decoded)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{1})
	require.Equal(t, ErrShortPacket, err)
	_, err = Decode([]byte{21, 0})
	require.Equal(t, ErrTooLong, err)
	_, err = Decode([]byte{3, 0, 1})
	require.Equal(t, ErrShortPacket, err)
	_, err = Decode([]byte{1, 0, 1})
	require.Equal(t, ErrChecksum, err)

	var p Packet
	_, err = p.ReadFrom(bytes.NewReader([]byte{2, 3, 1}))
	require.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestBody(t *testing.T) {
	p := New([]byte{0x40, 'h', 'i'})
	require.Equal(t, []byte("hi"), p.Body())
	p = New([]byte{0x40})
	require.Empty(t, p.Body())
	require.Equal(t, "filler", Packet{}.String())
}
