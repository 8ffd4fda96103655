// internal/server/machine.go
package server

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/metrics"
	"github.com/tamzrod/datalogger/internal/wire"
)

// ErrClosed is returned for any non-BOARD message after the connection closed.
var ErrClosed = errors.New("server: connection closed")

// Transport delivers one protocol message to the client.
type Transport interface {
	Send(msg string) error
}

// Backend is everything a connection needs from the rest of the logger.
// Calls run inside state transitions and must return in bounded time.
type Backend interface {
	// StorageReady reports whether sessions can be recorded.
	StorageReady() bool

	// Logging reports whether a session is running, possibly started by
	// another connection.
	Logging() bool

	// StartLogging opens a session and starts every device manager.
	StartLogging() error

	// StopLogging stops every device manager and closes the session.
	StopLogging() error

	// SessionList returns one "<id> <startedMs> <stoppedMs> <count>" line per session.
	SessionList() ([]string, error)

	// SessionBlocks returns the stored frames of a session in send order.
	SessionBlocks(id int64) ([][]string, error)

	// Latest returns the most recently logged frame.
	Latest() (string, bool)

	// Relay forwards BOARD command arguments to the addressed board.
	Relay(args []string) error

	// Boards returns the two-hex ids of connected boards.
	Boards() []string
}

// State is one server protocol state.
// Enter runs on arrival and returns the state now current, which is not
// the receiver when it moves on immediately.
type State interface {
	Name() string
	Enter(m *Machine) (State, error)
	Receive(m *Machine, msg string) (State, error)
}

// Machine is the server side of one connection.
// Transitions run to completion under the machine lock.
type Machine struct {
	mu    sync.Mutex
	state State

	tr      Transport
	be      Backend
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewMachine enters Idle. A backend that is already logging moves the
// connection straight on to Logging.
func NewMachine(tr Transport, be Backend, logger *zap.Logger, m *metrics.Metrics) (*Machine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mc := &Machine{tr: tr, be: be, log: logger, metrics: m}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	st, err := mc.transition(idle{})
	mc.state = st
	return mc, err
}

// State returns the current state name.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Name()
}

// Receive processes one inbound line. A returned error is fatal to the
// connection.
func (m *Machine) Receive(msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.Command(wire.Token(msg))

	// BOARD is honoured in every state, Closed included.
	if wire.Is(msg, wire.Board) {
		if err := m.be.Relay(wire.Args(msg)); err != nil {
			m.log.Warn("board command not relayed", zap.String("msg", msg), zap.Error(err))
		}
		return m.tr.Send(wire.Ack)
	}

	next, err := m.state.Receive(m, msg)
	if next != nil {
		m.state = next
	}
	return err
}

// Close moves the machine to Closed. A running session keeps logging.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.(logging); ok {
		m.log.Info("client left while logging; session continues")
	}
	m.state = closed{}
}

// transition enters next and returns the resulting state.
func (m *Machine) transition(next State) (State, error) {
	m.log.Debug("state", zap.String("to", next.Name()))
	return next.Enter(m)
}

func (m *Machine) send(msg string) error {
	if _, ok := m.state.(closed); ok {
		return ErrClosed
	}
	return m.tr.Send(msg)
}

func (m *Machine) reject(msg string) error {
	reply := wire.Reject(msg, wire.ServerVocabulary)
	m.log.Debug("command rejected", zap.String("state", m.state.Name()), zap.String("msg", msg), zap.String("reply", reply))
	return m.send(reply)
}

func (m *Machine) sendBoards() error {
	return m.send(wire.Compose(wire.Boards, m.be.Boards()...))
}

// ---- Idle ----

type idle struct{}

func (idle) Name() string { return "Idle" }

func (s idle) Enter(m *Machine) (State, error) {
	if m.be.Logging() {
		return m.transition(logging{resume: true})
	}
	return s, nil
}

func (s idle) Receive(m *Machine, msg string) (State, error) {
	switch {
	case msg == wire.Start:
		if !m.be.StorageReady() {
			m.log.Warn("start refused: no local storage")
			return s, m.send(wire.ErrorReply(wire.ErrCodeNoStorage))
		}
		return m.transition(logging{})

	case msg == wire.GetSessions:
		lines, err := m.be.SessionList()
		if err != nil {
			m.log.Warn("session list unavailable", zap.Error(err))
			return s, m.send(wire.Nack)
		}
		return s, m.send(wire.JoinBlock(lines, wire.Nack))

	case wire.Is(msg, wire.Download):
		id, err := wire.ParseDownload(msg)
		if err != nil {
			m.log.Warn("malformed download request", zap.String("msg", msg))
			return s, m.send(wire.Nack)
		}
		return m.transition(&downloading{session: id})

	case msg == wire.Stop, msg == wire.Update:
		return s, m.send(wire.NoSession)

	case msg == wire.IsLogging:
		return s, m.send(wire.Nack)

	case msg == wire.Boards:
		return s, m.sendBoards()

	case wire.Is(msg, wire.Reset):
		return s, m.send(wire.Ack)
	}

	return s, m.reject(msg)
}

// ---- Logging ----

type logging struct {
	// resume joins a session started by an earlier connection.
	resume bool
}

func (logging) Name() string { return "Logging" }

func (s logging) Enter(m *Machine) (State, error) {
	if s.resume {
		return logging{}, nil
	}
	if err := m.be.StartLogging(); err != nil {
		m.log.Error("logging start failed", zap.Error(err))
		if err := m.send(wire.ErrorReply(wire.ErrCodeNoStorage)); err != nil {
			return idle{}, err
		}
		return idle{}, nil
	}
	return logging{}, m.send(wire.Ack)
}

func (s logging) Receive(m *Machine, msg string) (State, error) {
	switch {
	case msg == wire.Stop:
		if err := m.send(wire.Ack); err != nil {
			return s, err
		}
		if err := m.be.StopLogging(); err != nil {
			m.log.Error("logging stop failed", zap.Error(err))
		}
		return m.transition(idle{})

	case wire.Is(msg, wire.Reset):
		if err := m.be.StopLogging(); err != nil {
			m.log.Error("logging stop failed", zap.Error(err))
		}
		if err := m.send(wire.Ack); err != nil {
			return idle{}, err
		}
		return m.transition(idle{})

	case msg == wire.Update:
		if line, ok := m.be.Latest(); ok {
			return s, m.send(line)
		}
		return s, m.send(wire.Ack)

	case msg == wire.Start:
		return s, m.send(wire.InSession)

	case msg == wire.IsLogging:
		return s, m.send(wire.Ack)

	case msg == wire.Boards:
		return s, m.sendBoards()
	}

	return s, m.reject(msg)
}

// ---- Downloading ----

// downloading streams one session's frames. The dataset is fetched once
// on entry; each client ACK advances the cursor by one block.
type downloading struct {
	session int64
	blocks  [][]string
	cursor  int
}

func (*downloading) Name() string { return "Downloading" }

func (s *downloading) Enter(m *Machine) (State, error) {
	blocks, err := m.be.SessionBlocks(s.session)
	if err != nil {
		m.log.Warn("download unavailable", zap.Int64("session", s.session), zap.Error(err))
	}
	if len(blocks) == 0 {
		if err := m.send(wire.Nack); err != nil {
			return idle{}, err
		}
		return m.transition(idle{})
	}

	s.blocks = blocks
	s.cursor = 0
	m.log.Info("download started", zap.Int64("session", s.session), zap.Int("blocks", len(blocks)))
	return s.next(m)
}

// next sends the block under the cursor. The last block carries NACK and
// ends the transfer without waiting for another ACK.
func (s *downloading) next(m *Machine) (State, error) {
	block := s.blocks[s.cursor]
	s.cursor++
	m.metrics.DownloadBlock()

	if s.cursor == len(s.blocks) {
		if err := m.send(wire.JoinBlock(block, wire.Nack)); err != nil {
			return idle{}, err
		}
		m.log.Info("download complete", zap.Int64("session", s.session))
		return m.transition(idle{})
	}
	return s, m.send(wire.JoinBlock(block, wire.Ack))
}

func (s *downloading) Receive(m *Machine, msg string) (State, error) {
	switch {
	case msg == wire.Ack:
		return s.next(m)

	case wire.Is(msg, wire.Reset):
		m.log.Info("download aborted", zap.Int64("session", s.session), zap.Int("sent", s.cursor))
		if err := m.send(wire.Ack); err != nil {
			return idle{}, err
		}
		return m.transition(idle{})
	}

	return s, m.reject(msg)
}

// ---- Closed ----

type closed struct{}

func (closed) Name() string { return "Closed" }

func (s closed) Enter(*Machine) (State, error) { return s, nil }

func (s closed) Receive(_ *Machine, msg string) (State, error) {
	return s, fmt.Errorf("%w: received %q", ErrClosed, msg)
}
