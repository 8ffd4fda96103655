// internal/poller/poller.go
package poller

import (
	"errors"
	"io"
	"time"

	"github.com/tamzrod/datalogger/internal/board"
)

// Inputs is the number of digital inputs carried by one GPIO frame.
const Inputs = 8

// frameType marks GPIO frames.
const frameType = 5

// Client abstracts the Modbus operation the poller needs.
type Client interface {
	ReadDiscreteInputs(addr, qty uint16) ([]bool, error) // FC 2
}

// Config is the minimal runtime config the poller needs.
type Config struct {
	BoardID  uint8
	Address  uint16
	Interval time.Duration
}

// Poller is a dumb, clock-driven reader of one I/O module.
type Poller struct {
	cfg     Config
	client  Client
	factory func() (Client, error)
}

// New creates a poller with immutable config. factory, when set, replaces
// a client discarded after a transport failure.
func New(cfg Config, client Client, factory func() (Client, error)) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if client == nil && factory == nil {
		return nil, errors.New("poller: client or factory required")
	}
	return &Poller{cfg: cfg, client: client, factory: factory}, nil
}

// BoardID is the id stamped on emitted frames.
func (p *Poller) BoardID() uint8 { return p.cfg.BoardID }

// PollOnce performs exactly one read. ts is the frame timestamp.
// On failure the client is discarded; the next poll reconnects.
func (p *Poller) PollOnce(ts uint16) Sample {
	res := Sample{At: time.Now()}

	if p.client == nil {
		c, err := p.factory()
		if err != nil {
			res.Err = err
			return res
		}
		p.client = c
	}

	bits, err := p.client.ReadDiscreteInputs(p.cfg.Address, Inputs)
	if err != nil {
		p.discard()
		res.Err = err
		return res
	}

	res.Inputs = bits
	res.Frame = Frame(p.cfg.BoardID, ts, bits)
	return res
}

func (p *Poller) discard() {
	if p.factory == nil {
		return
	}
	if c, ok := p.client.(io.Closer); ok {
		c.Close()
	}
	p.client = nil
}

// Close releases the current client.
func (p *Poller) Close() error {
	if c, ok := p.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Frame encodes input states as a GPIO board frame. Input i is payload
// bit i, counted from the most significant bit.
func Frame(id uint8, ts uint16, inputs []bool) string {
	var b byte
	for i, on := range inputs {
		if i >= Inputs {
			break
		}
		if on {
			b |= 0x80 >> uint(i)
		}
	}
	return board.New(id, frameType, 0, ts, uint32(b)<<24).Encode()
}
