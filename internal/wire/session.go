// internal/wire/session.go
package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionInfo is one entry of a session list reply.
type SessionInfo struct {
	ID       int64
	Started  time.Time
	Stopped  time.Time // zero while running
	Readings int
}

// FormatSession renders "<id> <startedMs> <stoppedMs> <count>".
func FormatSession(s SessionInfo) string {
	return fmt.Sprintf("%d %d %d %d", s.ID, unixMs(s.Started), unixMs(s.Stopped), s.Readings)
}

// ParseSession parses one session list line. Lines without exactly four
// fields are rejected.
func ParseSession(line string) (SessionInfo, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 4 {
		return SessionInfo{}, fmt.Errorf("%w: session line %q has %d fields", ErrMalformed, line, len(parts))
	}

	var n [4]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return SessionInfo{}, fmt.Errorf("%w: session line %q", ErrMalformed, line)
		}
		n[i] = v
	}

	return SessionInfo{
		ID:       n[0],
		Started:  fromUnixMs(n[1]),
		Stopped:  fromUnixMs(n[2]),
		Readings: int(n[3]),
	}, nil
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
