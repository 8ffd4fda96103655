// internal/board/frame.go
package board

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Frame layout constants.
// Bit 0 is the most significant bit of the first byte.

// HeaderBits is the fixed width of a frame: id, type, flags, timestamp, payload.
const HeaderBits = 64

// MinHexLen is the shortest accepted hex encoding of a frame.
const MinHexLen = HeaderBits / 4

// FlagCount is the number of one-bit flags in the header.
const FlagCount = 5

var (
	ErrFrameTooShort = errors.New("board: frame too short")
	ErrInvalidHex    = errors.New("board: invalid hex")
	ErrFlagRange     = errors.New("board: flag index out of range")
)

// Frame is one decoded board message.
// Header fields are fixed; the payload buffer is the 32-bit header payload
// followed by any extension bytes, addressable by bit.
type Frame struct {
	Sender    uint8
	Type      uint8 // 3 bits
	Flags     uint8 // 5 bits, flag 0 is the most significant
	Timestamp uint16

	payload []byte

	// Extension is the raw hex beyond the fixed header, kept verbatim.
	Extension string
}

// Decode parses a hex-encoded frame.
// Input shorter than MinHexLen is rejected and nothing is decoded.
func Decode(raw string) (Frame, error) {
	s := strings.TrimSpace(raw)
	if len(s) < MinHexLen {
		return Frame{}, fmt.Errorf("%w: got %d hex chars, need %d", ErrFrameTooShort, len(s), MinHexLen)
	}

	head, err := hex.DecodeString(s[:MinHexLen])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}

	f := Frame{
		Sender:    uint8(extract(head, 0, 8)),
		Type:      uint8(extract(head, 8, 3)),
		Flags:     uint8(extract(head, 11, 5)),
		Timestamp: uint16(extract(head, 16, 16)),
		Extension: s[MinHexLen:],
	}

	f.payload = append([]byte(nil), head[4:]...)

	// The extension joins the bit buffer only when it is clean hex.
	ext := f.Extension
	if len(ext)%2 == 1 {
		ext = ext[:len(ext)-1]
	}
	if b, err := hex.DecodeString(ext); err == nil {
		f.payload = append(f.payload, b...)
	}

	return f, nil
}

// New builds a frame from header fields; ext bytes extend the payload.
func New(sender, typ, flags uint8, ts uint16, payload uint32, ext ...byte) Frame {
	f := Frame{
		Sender:    sender,
		Type:      typ & 0x07,
		Flags:     flags & 0x1F,
		Timestamp: ts,
		payload: []byte{
			byte(payload >> 24), byte(payload >> 16), byte(payload >> 8), byte(payload),
		},
	}
	if len(ext) > 0 {
		f.payload = append(f.payload, ext...)
		f.Extension = strings.ToUpper(hex.EncodeToString(ext))
	}
	return f
}

// PeekID reads the leading board id without decoding the rest.
func PeekID(raw string) (uint8, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: no board id", ErrFrameTooShort)
	}
	id, err := strconv.ParseUint(s[:2], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: board id %q", ErrInvalidHex, s[:2])
	}
	return uint8(id), nil
}

// Encode renders the frame as upper-case hex, extension appended verbatim.
func (f Frame) Encode() string {
	return fmt.Sprintf("%02X%02X%04X%08X",
		f.Sender,
		(f.Type&0x07)<<5|f.Flags&0x1F,
		f.Timestamp,
		f.RawPayload(),
	) + f.Extension
}

// Number reads an unsigned value of length bits from the payload buffer.
// Bits past the end of the buffer read as zero.
func (f Frame) Number(start, length int) uint64 {
	if length <= 0 || length > 64 || start < 0 {
		return 0
	}
	return extract(f.payload, start, length)
}

// Flag reports flag i, 0 <= i < FlagCount.
func (f Frame) Flag(i int) (bool, error) {
	if i < 0 || i >= FlagCount {
		return false, fmt.Errorf("%w: %d", ErrFlagRange, i)
	}
	return f.Flags&(0x10>>uint(i)) != 0, nil
}

// RawPayload returns the 32-bit header payload.
func (f Frame) RawPayload() uint32 {
	return uint32(extract(f.payload, 0, 32))
}

// PayloadBits is the size of the addressable payload buffer.
func (f Frame) PayloadBits() int {
	return len(f.payload) * 8
}

func extract(buf []byte, start, length int) uint64 {
	var v uint64
	for i := 0; i < length; i++ {
		bit := start + i
		v <<= 1
		if bit/8 < len(buf) && buf[bit/8]&(0x80>>uint(bit%8)) != 0 {
			v |= 1
		}
	}
	return v
}
