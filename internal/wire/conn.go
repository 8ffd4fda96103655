// internal/wire/conn.go
package wire

import (
	"bufio"
	"net"
	"strings"
	"sync"
)

// Conn frames newline-delimited protocol lines over a stream connection.
// Reads are meant for a single reader goroutine; writes are serialized.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer
}

func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		r:    bufio.NewReader(c),
		w:    bufio.NewWriter(c),
	}
}

// ReadLine returns the next line without its terminator.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadBlock accumulates lines until one terminates the block
// (ACK, NACK or ERROR) and returns them newline-joined.
func (c *Conn) ReadBlock() (string, error) {
	var lines []string
	for {
		line, err := c.ReadLine()
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
		if EndsBlock(line) {
			return strings.Join(lines, "\n"), nil
		}
	}
}

// Send writes msg followed by a newline and flushes.
func (c *Conn) Send(msg string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := c.w.WriteString(msg + "\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
