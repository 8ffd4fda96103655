// internal/serial/port.go
package serial

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	bugst "go.bug.st/serial"
)

// Port is the subset of a serial port the manager uses.
// A Read that times out returns (0, nil).
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Opener opens a named port.
type Opener func(name string, baud int, readTimeout time.Duration) (Port, error)

// Enumerator lists candidate port names.
type Enumerator func() ([]string, error)

// OpenPort opens name as 8N1 at baud with the given read timeout.
func OpenPort(name string, baud int, readTimeout time.Duration) (Port, error) {
	p, err := bugst.Open(name, &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("serial: set read timeout on %s: %w", name, err)
	}
	return p, nil
}

// ListPorts reports the ports known to the OS.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}

// ---- line reader ----

// lineReader splits port input into lines. It keeps bytes past the last
// newline for the next call.
type lineReader struct {
	p     Port
	buf   []byte
	chunk [64]byte
}

// readLine returns the next line without its terminator. ok is false when
// the read timed out with nothing received. A partial line pending at the
// timeout is returned as a line.
func (r *lineReader) readLine() (line string, ok bool, err error) {
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line = string(r.buf[:i])
			r.buf = r.buf[i+1:]
			return strings.TrimRight(line, "\r"), true, nil
		}

		n, err := r.p.Read(r.chunk[:])
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
			continue
		}
		if err != nil {
			return "", false, err
		}

		// timeout
		if len(r.buf) == 0 {
			return "", false, nil
		}
		line = strings.TrimRight(string(r.buf), "\r")
		r.buf = r.buf[:0]
		return line, true, nil
	}
}

func (r *lineReader) reset() {
	r.buf = r.buf[:0]
}
