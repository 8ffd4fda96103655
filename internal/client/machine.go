// internal/client/machine.go
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/board"
	"github.com/tamzrod/datalogger/internal/wire"
)

var (
	// ErrUnknownCommand is returned for a local request the current state
	// cannot send.
	ErrUnknownCommand = errors.New("client: command not valid in this state")

	// ErrBusy is returned while the machine waits for a server reply.
	ErrBusy = errors.New("client: waiting for server")
)

// Transport delivers one protocol message to the server.
type Transport interface {
	Send(msg string) error
}

// State is one client protocol state.
type State interface {
	Name() string
	Enter(m *Machine) (State, error)
	Receive(m *Machine, msg string) (State, error)
	Send(m *Machine, msg string) (State, error)
}

// Options tune the client machine.
type Options struct {
	// UpdateInterval is the UPDATE polling period while logging; 0 disables.
	UpdateInterval time.Duration
}

// Machine is the client side of one connection.
// Inbound and outbound events run to completion under the machine lock.
type Machine struct {
	mu    sync.Mutex
	state State

	tr   Transport
	l    Listener
	log  *zap.Logger
	opts Options

	stopUpdates context.CancelFunc
}

// NewMachine enters Init, which asks the server whether it is logging.
func NewMachine(tr Transport, l Listener, logger *zap.Logger, opts Options) (*Machine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l == nil {
		l = NopListener{}
	}
	m := &Machine{tr: tr, l: l, log: logger, opts: opts}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.transition(initial{})
	m.setState(st)
	return m, err
}

// State returns the current state name.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Name()
}

// ExpectsBlock reports whether replies are multi-line blocks.
func (m *Machine) ExpectsBlock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state.(type) {
	case sessionList, *downloading:
		return true
	}
	return false
}

// Receive processes one inbound message (a single line or a block).
// Only transport failures are returned.
func (m *Machine) Receive(msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.state.Receive(m, msg)
	m.setState(next)
	return err
}

// Send issues a local request such as START or DOWNLOAD 7.
func (m *Machine) Send(msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.state.Send(m, msg)
	m.setState(next)
	return err
}

// Close stops background polling.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelUpdates()
}

func (m *Machine) setState(st State) {
	if st == nil {
		return
	}
	if m.state == nil || m.state.Name() != st.Name() {
		m.l.StateChanged(st.Name())
	}
	m.state = st
}

func (m *Machine) transition(next State) (State, error) {
	if _, ok := next.(logging); !ok {
		m.cancelUpdates()
	}
	m.log.Debug("state", zap.String("to", next.Name()))
	return next.Enter(m)
}

func (m *Machine) send(msg string) error {
	m.log.Debug("->", zap.String("msg", msg))
	return m.tr.Send(msg)
}

// ---- UPDATE polling ----

func (m *Machine) startUpdates() {
	m.cancelUpdates()
	if m.opts.UpdateInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.stopUpdates = cancel

	go func() {
		t := time.NewTicker(m.opts.UpdateInterval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.update(ctx)
			}
		}
	}()
}

// update sends UPDATE unless polling was cancelled while it waited for the lock.
func (m *Machine) update(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err := m.send(wire.Update); err != nil {
		m.log.Warn("update request failed", zap.Error(err))
	}
}

func (m *Machine) cancelUpdates() {
	if m.stopUpdates != nil {
		m.stopUpdates()
		m.stopUpdates = nil
	}
}

func (m *Machine) unexpected(msg string) {
	m.log.Warn("unexpected message", zap.String("state", m.state.Name()), zap.String("msg", msg))
}

// ---- Init ----

type initial struct{}

func (initial) Name() string { return "Init" }

func (s initial) Enter(m *Machine) (State, error) {
	return s, m.send(wire.IsLogging)
}

func (s initial) Receive(m *Machine, msg string) (State, error) {
	switch {
	case msg == wire.Ack:
		return m.transition(logging{})
	case msg == wire.Nack:
		return m.transition(idle{})
	case wire.Is(msg, wire.Error):
		m.l.LoggerError(msg)
	default:
		m.unexpected(msg)
	}
	return s, nil
}

func (s initial) Send(*Machine, string) (State, error) {
	return s, ErrBusy
}

// ---- Idle ----

type idle struct{}

func (idle) Name() string { return "Idle" }

func (s idle) Enter(*Machine) (State, error) { return s, nil }

func (s idle) Receive(m *Machine, msg string) (State, error) {
	switch {
	case msg == wire.Ack:
		m.l.ProcessFinished()
	case wire.Is(msg, wire.Boards):
		m.l.Boards(wire.Args(msg))
	case wire.Is(msg, wire.Error):
		m.l.LoggerError(msg)
	default:
		m.unexpected(msg)
	}
	return s, nil
}

func (s idle) Send(m *Machine, msg string) (State, error) {
	switch {
	case msg == wire.Start:
		return m.transition(starting{})

	case msg == wire.GetSessions:
		return m.transition(sessionList{})

	case wire.Is(msg, wire.Download):
		id, err := wire.ParseDownload(msg)
		if err != nil {
			return s, err
		}
		return m.transition(&downloading{session: id})

	case wire.Is(msg, wire.Board), msg == wire.Boards, wire.Is(msg, wire.Reset):
		return s, m.send(msg)
	}

	return s, fmt.Errorf("%w: %q in %s", ErrUnknownCommand, msg, s.Name())
}

// ---- Starting ----

type starting struct{}

func (starting) Name() string { return "Starting" }

func (s starting) Enter(m *Machine) (State, error) {
	m.l.ProcessStarted("starting session")
	return s, m.send(wire.Start)
}

func (s starting) Receive(m *Machine, msg string) (State, error) {
	m.l.ProcessFinished()

	if msg == wire.Ack || msg == wire.InSession {
		return m.transition(logging{})
	}
	if wire.Is(msg, wire.Error) {
		m.l.LoggerError(msg)
	} else {
		m.unexpected(msg)
	}
	return m.transition(idle{})
}

func (s starting) Send(*Machine, string) (State, error) {
	return s, ErrBusy
}

// ---- Logging ----

type logging struct{}

func (logging) Name() string { return "Logging" }

func (s logging) Enter(m *Machine) (State, error) {
	m.l.LoggingStarted()
	m.startUpdates()
	return s, nil
}

func (s logging) Receive(m *Machine, msg string) (State, error) {
	switch {
	case wire.Is(msg, wire.Error):
		m.l.LoggerError(msg)
		return m.transition(stopping{})

	case msg == wire.NoSession:
		// The server is not logging; nothing to stop.
		m.l.LoggingStopped()
		return m.transition(idle{})

	case msg == wire.Ack, msg == wire.Nack, msg == wire.InSession:
		return s, nil

	case wire.Is(msg, wire.Boards):
		m.l.Boards(wire.Args(msg))
		return s, nil

	case len(msg) == 4 || len(msg) >= board.MinHexLen:
		m.l.CacheLine(msg)
		return s, nil
	}

	m.unexpected(msg)
	return s, nil
}

func (s logging) Send(m *Machine, msg string) (State, error) {
	switch {
	case msg == wire.Stop:
		return m.transition(stopping{})
	case msg == wire.Update, msg == wire.Boards, wire.Is(msg, wire.Board):
		return s, m.send(msg)
	}
	return s, fmt.Errorf("%w: %q in %s", ErrUnknownCommand, msg, s.Name())
}

// ---- Stopping ----

type stopping struct{}

func (stopping) Name() string { return "Stopping" }

func (s stopping) Enter(m *Machine) (State, error) {
	m.l.ProcessStarted("stopping session")
	return s, m.send(wire.Stop)
}

func (s stopping) Receive(m *Machine, msg string) (State, error) {
	switch {
	case msg == wire.Ack, msg == wire.NoSession:
		m.l.ProcessFinished()
		m.l.LoggingStopped()
		return m.transition(sessionList{})
	case wire.Is(msg, wire.Error):
		m.l.LoggerError(msg)
	default:
		// late UPDATE replies
		m.log.Debug("ignored while stopping", zap.String("msg", msg))
	}
	return s, nil
}

func (s stopping) Send(*Machine, string) (State, error) {
	return s, ErrBusy
}

// ---- SessionList ----

type sessionList struct{}

func (sessionList) Name() string { return "SessionList" }

func (s sessionList) Enter(m *Machine) (State, error) {
	m.l.ProcessStarted("fetching session list")
	return s, m.send(wire.GetSessions)
}

// Receive accepts a block ending in NACK. Any other trailer discards the
// block and leaves the machine waiting here; there is no retry.
func (s sessionList) Receive(m *Machine, msg string) (State, error) {
	body, trailer := wire.SplitBlock(msg)
	if trailer != wire.Nack {
		m.log.Warn("session list discarded: bad trailer", zap.String("trailer", trailer))
		return s, nil
	}

	sessions := make([]wire.SessionInfo, 0, len(body))
	for _, line := range body {
		si, err := wire.ParseSession(line)
		if err != nil {
			m.log.Warn("session line skipped", zap.Error(err))
			continue
		}
		sessions = append(sessions, si)
	}

	m.l.ProcessFinished()
	m.l.SessionList(sessions)
	return m.transition(idle{})
}

func (s sessionList) Send(*Machine, string) (State, error) {
	return s, ErrBusy
}

// ---- Downloading ----

type downloading struct {
	session int64
}

func (*downloading) Name() string { return "Downloading" }

func (s *downloading) Enter(m *Machine) (State, error) {
	m.l.ProcessStarted(fmt.Sprintf("downloading session %d", s.session))
	return s, m.send(wire.Compose(wire.Download, fmt.Sprint(s.session)))
}

func (s *downloading) Receive(m *Machine, msg string) (State, error) {
	body, trailer := wire.SplitBlock(msg)

	if wire.Is(trailer, wire.Error) {
		m.l.LoggerError(trailer)
		m.l.ProcessFinished()
		if err := m.send(wire.Reset); err != nil {
			return idle{}, err
		}
		return m.transition(idle{})
	}

	if len(body) > 0 {
		m.l.DataBlock(s.session, body)
	}

	switch trailer {
	case wire.Nack:
		m.l.ProcessFinished()
		return m.transition(idle{})
	case wire.Ack:
		return s, m.send(wire.Ack)
	}

	m.unexpected(trailer)
	return s, nil
}

func (s *downloading) Send(*Machine, string) (State, error) {
	return s, ErrBusy
}
