// internal/client/conn.go
package client

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/wire"
)

// Conn is a client connection to a logger server.
type Conn struct {
	wc  *wire.Conn
	m   *Machine
	log *zap.Logger

	done chan struct{}
	once sync.Once
	err  error
}

// Dial connects to addr and starts the reader. The machine starts in
// Init and resolves to Idle or Logging on the server's reply.
func Dial(ctx context.Context, addr string, l Listener, logger *zap.Logger, opts Options) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := net.Dialer{Timeout: 10 * time.Second}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return Attach(nc, l, logger, opts)
}

// Attach runs the client protocol over an established connection.
func Attach(nc net.Conn, l Listener, logger *zap.Logger, opts Options) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		wc:   wire.NewConn(nc),
		log:  logger,
		done: make(chan struct{}),
	}

	m, err := NewMachine(c.wc, l, logger, opts)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.m = m

	go c.readLoop()
	return c, nil
}

// readLoop frames inbound data. The framing depends on the state at the
// time the first line arrives: block states read up to a sentinel line.
func (c *Conn) readLoop() {
	for {
		line, err := c.wc.ReadLine()
		if err != nil {
			c.finish(err)
			return
		}

		msg := line
		if c.m.ExpectsBlock() && !wire.EndsBlock(line) {
			lines := []string{line}
			for {
				next, err := c.wc.ReadLine()
				if err != nil {
					c.finish(err)
					return
				}
				lines = append(lines, next)
				if wire.EndsBlock(next) {
					break
				}
			}
			msg = strings.Join(lines, "\n")
		}

		c.log.Debug("<-", zap.String("msg", msg))
		if err := c.m.Receive(msg); err != nil {
			c.finish(err)
			return
		}
	}
}

func (c *Conn) finish(err error) {
	c.once.Do(func() {
		c.err = err
		c.m.Close()
		c.wc.Close()
		close(c.done)
	})
}

// Send issues a local request.
func (c *Conn) Send(msg string) error { return c.m.Send(msg) }

// State returns the current client state name.
func (c *Conn) State() string { return c.m.State() }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) Close() error {
	c.finish(net.ErrClosed)
	return nil
}
