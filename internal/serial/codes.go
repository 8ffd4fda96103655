// internal/serial/codes.go
package serial

import (
	"fmt"
	"strings"
)

// Board command codes. A command on the wire is "<id><code>[payload]".
const (
	CodeAck      = "40"
	CodeID       = "81"
	CodeStart    = "82"
	CodeStop     = "83"
	CodeTransmit = "C0"
)

// MessageLength is the padded length of a command carrying a payload.
const MessageLength = 27

// ReplyError is a board reply other than the expected acknowledgment.
type ReplyError struct {
	Board   uint8
	Command string
	Reply   string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("serial: board %02X answered %q to %q", e.Board, e.Reply, e.Command)
}

// Code is the status code reported for unacknowledged commands.
func (e *ReplyError) Code() uint16 { return 2 }

// command renders the line sent for code, without the newline.
// Commands longer than a bare "<id><code>" are padded with '0'.
func command(id uint8, code string) string {
	cmd := fmt.Sprintf("%02X%s", id, code)
	if len(cmd) > 4 && len(cmd) < MessageLength {
		cmd += strings.Repeat("0", MessageLength-len(cmd))
	}
	return cmd
}

// isAck reports whether line is a 4-character acknowledgment.
func isAck(line string) bool {
	return len(line) == 4 && line[2:] == CodeAck
}
