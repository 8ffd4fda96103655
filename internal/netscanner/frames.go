// internal/netscanner/frames.go
package netscanner

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/datalogger/internal/board"
)

// ErrBadReply is returned for a read reply that is not 16 channels of 4 hex digits.
var ErrBadReply = errors.New("netscanner: malformed read reply")

// frameType marks scanner frames.
const frameType = 5

// ReplyLen is the hex length of a full read reply.
const ReplyLen = board.ScannerChannels * 4

// Frames converts a read reply into one board frame per channel group.
// Group g sets flag g and carries its four channels in the payload buffer.
func Frames(id uint8, ts uint16, reply string) ([]string, error) {
	reply = strings.TrimSpace(reply)
	if len(reply) != ReplyLen {
		return nil, fmt.Errorf("%w: %d hex digits", ErrBadReply, len(reply))
	}
	raw, err := hex.DecodeString(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}

	const groupBytes = board.ScannerGroup * 2
	groups := board.ScannerChannels / board.ScannerGroup

	out := make([]string, 0, groups)
	for g := 0; g < groups; g++ {
		b := raw[g*groupBytes : (g+1)*groupBytes]
		f := board.New(id, frameType, 0x10>>uint(g), ts, binary.BigEndian.Uint32(b[:4]), b[4:]...)
		out = append(out, f.Encode())
	}
	return out, nil
}
