// internal/wire/classify.go
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a command carries unusable arguments.
var ErrMalformed = errors.New("wire: malformed command")

// Is reports whether msg carries the given command code.
// Single-word codes match exactly; codes with arguments match by prefix.
func Is(msg, code string) bool {
	if !prefixed[code] {
		return msg == code
	}
	if !strings.HasPrefix(msg, code) {
		return false
	}
	// BOARD is a prefix of BOARDS.
	if code == Board && strings.HasPrefix(msg, Boards) {
		return false
	}
	return true
}

// Compose joins a command code and its arguments into one line.
func Compose(code string, args ...string) string {
	if len(args) == 0 {
		return code
	}
	return code + " " + strings.Join(args, " ")
}

// ErrorReply formats "ERROR <code>".
func ErrorReply(code int) string {
	return Compose(Error, strconv.Itoa(code))
}

// ErrorCode extracts the numeric code of an "ERROR <code>" line.
func ErrorCode(msg string) (int, bool) {
	if !Is(msg, Error) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(msg, Error)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Reject picks the error reply for a message the current state cannot handle:
// ERROR 1 when the leading token is in vocab, ERROR 2 otherwise.
func Reject(msg string, vocab []string) string {
	token := Token(msg)
	for _, v := range vocab {
		if token == v {
			return ErrorReply(ErrCodeIllegal)
		}
	}
	return ErrorReply(ErrCodeUnknown)
}

// Token returns the leading space-separated token of msg.
func Token(msg string) string {
	if i := strings.IndexByte(msg, ' '); i >= 0 {
		return msg[:i]
	}
	return msg
}

// Args returns the space-separated arguments following the leading token.
func Args(msg string) []string {
	f := strings.Fields(msg)
	if len(f) < 2 {
		return nil
	}
	return f[1:]
}

// ParseDownload extracts the session id from "DOWNLOAD <id>".
// Exactly one integer argument is accepted.
func ParseDownload(msg string) (int64, error) {
	parts := strings.Split(msg, " ")
	if len(parts) != 2 || parts[0] != Download {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, msg)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, msg)
	}
	return id, nil
}

// ---- multi-line blocks ----

// JoinBlock builds a newline-joined block ending with the sentinel line.
func JoinBlock(lines []string, sentinel string) string {
	if len(lines) == 0 {
		return sentinel
	}
	return strings.Join(lines, "\n") + "\n" + sentinel
}

// SplitBlock separates a block into its body lines and its trailing line.
func SplitBlock(msg string) (body []string, trailer string) {
	parts := strings.Split(msg, "\n")
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// EndsBlock reports whether line terminates a multi-line block.
func EndsBlock(line string) bool {
	return line == Ack || line == Nack || Is(line, Error)
}
