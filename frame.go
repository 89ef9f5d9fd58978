// Package msgsock implements a single-client, length-prefixed message framing
// service over TCP.
//
// Every message on the wire is a frame made of an 8-byte header followed by
// the payload:
//
//	offset 0: magic        uint32
//	offset 4: payload_len  uint32   (must be > 0)
//	offset 8: payload      payload_len bytes
//
// Both header fields use ByteOrder. The magic value is fixed per connection and
// is checked before the length field is trusted.
package msgsock

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the fixed frame header in bytes.
const HeaderSize = 8

// DefaultMagic is the magic value used when none is configured.
const DefaultMagic uint32 = 0xC0FFEE

// ByteOrder is the byte order of the header fields on the wire.
var ByteOrder = binary.LittleEndian

// Errors returned by Decode. All of them end the connection they were read from.
var (
	// ErrStreamClosed is returned when the peer closed the stream before
	// sending any byte of the next header.
	ErrStreamClosed = errors.New("stream closed")
	// ErrShortRead is returned when the stream ended in the middle of a frame.
	ErrShortRead = errors.New("short read")
	// ErrBadMagic is returned when the header magic does not match.
	ErrBadMagic = errors.New("bad frame magic")
	// ErrEmptyPayload is returned for frames declaring a zero-length payload.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrMessageTooLarge is returned when a payload exceeds the configured limit.
	ErrMessageTooLarge = errors.New("message too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic  uint32
	Length uint32
}

// Frame is one complete wire message.
type Frame struct {
	Magic   uint32
	Payload []byte
}

// Len returns the payload length as written in the header.
func (f Frame) Len() uint32 {
	return uint32(len(f.Payload))
}

// EncodeHeader returns the 8-byte wire form of h.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	ByteOrder.PutUint32(buf[0:4], h.Magic)
	ByteOrder.PutUint32(buf[4:8], h.Length)
}

// DecodeHeader parses an 8-byte wire header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, errors.Errorf("invalid header length: %d", len(b))
	}
	return Header{
		Magic:  ByteOrder.Uint32(b[0:4]),
		Length: ByteOrder.Uint32(b[4:8]),
	}, nil
}

// Encode returns the wire form of f: header followed by the payload.
// It does not check that the payload fits the length field; Codec.Encode does.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	putHeader(buf, Header{Magic: f.Magic, Length: f.Len()})
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Decode reads exactly one frame from r, blocking until it is complete.
// The header magic must equal magic.
func Decode(r io.Reader, magic uint32) (Frame, error) {
	return decode(r, magic, 0)
}

// decode reads one frame. A maxPayload of zero disables the size limit.
func decode(r io.Reader, magic uint32, maxPayload uint32) (Frame, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Frame{}, ErrStreamClosed
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Frame{}, errors.Wrap(ErrShortRead, "header")
		default:
			return Frame{}, errors.Wrap(err, "read header")
		}
	}

	h, _ := DecodeHeader(hb[:])
	if h.Magic != magic {
		return Frame{}, errors.Wrapf(ErrBadMagic, "got %#x, want %#x", h.Magic, magic)
	}
	if h.Length == 0 {
		return Frame{}, ErrEmptyPayload
	}
	if maxPayload > 0 && h.Length > maxPayload {
		return Frame{}, errors.Wrapf(ErrMessageTooLarge, "%d > %d", h.Length, maxPayload)
	}

	payload := make([]byte, h.Length)
	n, err := io.ReadFull(r, payload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, errors.Wrapf(ErrShortRead, "payload %d/%d bytes", n, h.Length)
		}
		return Frame{}, errors.Wrap(err, "read payload")
	}

	return Frame{Magic: h.Magic, Payload: payload}, nil
}

// Codec frames payloads for one connection.
type Codec struct {
	// Magic is written into every encoded header and required on every decoded one.
	Magic uint32
	// MaxPayload limits the payload size in both directions. Zero means no limit.
	MaxPayload uint32
}

// NewCodec returns a Codec using magic and no payload limit.
func NewCodec(magic uint32) Codec {
	return Codec{Magic: magic}
}

// Encode frames payload. It fails only when payload exceeds MaxPayload.
func (c Codec) Encode(payload []byte) ([]byte, error) {
	if err := checkPayloadSize(uint64(len(payload)), c.MaxPayload); err != nil {
		return nil, err
	}
	return Encode(Frame{Magic: c.Magic, Payload: payload}), nil
}

// checkPayloadSize rejects payloads whose length does not fit the uint32
// length field or exceeds limit. A zero limit only applies the field limit.
func checkPayloadSize(n uint64, limit uint32) error {
	if n > math.MaxUint32 {
		return errors.Wrapf(ErrMessageTooLarge, "%d does not fit the length field", n)
	}
	if limit > 0 && n > uint64(limit) {
		return errors.Wrapf(ErrMessageTooLarge, "%d > %d", n, limit)
	}
	return nil
}

// Decode reads one frame from r and returns its payload.
func (c Codec) Decode(r io.Reader) ([]byte, error) {
	f, err := decode(r, c.Magic, c.MaxPayload)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

// isProtocolError reports whether err means the byte stream cannot be trusted
// anymore, as opposed to the peer going away.
func isProtocolError(err error) bool {
	return errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrMessageTooLarge)
}
