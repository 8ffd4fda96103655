// internal/serial/manager.go
package serial

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/metrics"
	"github.com/tamzrod/datalogger/internal/notify"
	"github.com/tamzrod/datalogger/internal/status"
)

var (
	ErrMaxRetries = errors.New("serial: max retries exceeded")
	ErrNoBoard    = errors.New("serial: board not connected")
	ErrQueueFull  = errors.New("serial: command queue full")
)

const commandQueueSize = 16

// FrameSink receives raw frames read from boards.
type FrameSink interface {
	Queue(frame string)
}

// Options configure the manager.
type Options struct {
	// Ports to probe; empty probes every port the OS reports.
	Ports        []string
	BaudRate     int
	ReadTimeout  time.Duration
	PollInterval time.Duration
	MaxRetries   int
}

type boardPort struct {
	id   uint8
	name string

	mu   sync.Mutex // one exchange at a time
	port Port
	r    *lineReader
}

type relayed struct {
	board   uint8
	command string
}

// Manager owns the serial expansion boards found at boot. The process
// holds a single Manager; everything that talks to the boards goes
// through it.
type Manager struct {
	opts Options
	open Opener
	list Enumerator

	sink    FrameSink
	log     *zap.Logger
	metrics *metrics.Metrics
	notify  notify.Notifier
	tracker *status.Tracker

	mu     sync.Mutex
	boards map[uint8]*boardPort

	cmds chan relayed

	life   sync.Mutex // serializes session start/stop
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(opts Options, sink FrameSink, logger *zap.Logger, m *metrics.Metrics, n notify.Notifier) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n == nil {
		n = notify.Nop{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Manager{
		opts:    opts,
		open:    OpenPort,
		list:    ListPorts,
		sink:    sink,
		log:     logger,
		metrics: m,
		notify:  n,
		tracker: status.NewTracker(),
		boards:  make(map[uint8]*boardPort),
		cmds:    make(chan relayed, commandQueueSize),
	}
}

// ------------------------------------------------------------
// Boot scan
// ------------------------------------------------------------

// Scan probes the configured ports and keeps every port that answers the
// identification request. It returns the number of boards found.
func (m *Manager) Scan() (int, error) {
	names := m.opts.Ports
	if len(names) == 0 {
		var err error
		if names, err = m.list(); err != nil {
			return 0, fmt.Errorf("serial: enumerate ports: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range names {
		p, err := m.open(name, m.opts.BaudRate, m.opts.ReadTimeout)
		if err != nil {
			m.log.Debug("port skipped", zap.String("port", name), zap.Error(err))
			continue
		}

		b := &boardPort{name: name, port: p, r: &lineReader{p: p}}
		id, ok, err := requestID(b)
		if err != nil || !ok {
			m.log.Debug("no board on port", zap.String("port", name), zap.Error(err))
			p.Close()
			continue
		}
		if prev, dup := m.boards[id]; dup {
			m.log.Warn("duplicate board id", zap.Uint8("board", id), zap.String("port", name), zap.String("first", prev.name))
			p.Close()
			continue
		}

		b.id = id
		m.boards[id] = b
		m.log.Info("board found", zap.Uint8("board", id), zap.String("port", name))
	}

	m.tracker.OK()
	return len(m.boards), nil
}

// requestID clears the board's input, then asks for its id.
func requestID(b *boardPort) (uint8, bool, error) {
	if err := b.port.ResetInputBuffer(); err != nil {
		return 0, false, err
	}
	b.r.reset()

	if _, err := b.port.Write([]byte("\n")); err != nil {
		return 0, false, err
	}
	if _, _, err := b.r.readLine(); err != nil {
		return 0, false, err
	}

	if _, err := b.port.Write([]byte("00" + CodeID + "\n")); err != nil {
		return 0, false, err
	}
	line, _, err := b.r.readLine()
	if err != nil {
		return 0, false, err
	}
	if len(line) <= 2 {
		return 0, false, nil
	}
	id, err := strconv.ParseUint(line[:2], 16, 8)
	if err != nil {
		return 0, false, nil
	}
	return uint8(id), true, nil
}

// IDs returns the connected board ids in ascending order.
func (m *Manager) IDs() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint8, 0, len(m.boards))
	for id := range m.boards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager) sorted() []*boardPort {
	ids := m.IDs()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*boardPort, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.boards[id])
	}
	return out
}

func (m *Manager) board(id uint8) (*boardPort, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	return b, ok
}

// Status returns the manager's health snapshot.
func (m *Manager) Status() status.Snapshot {
	return m.tracker.Snapshot()
}

// ------------------------------------------------------------
// Exchanges
// ------------------------------------------------------------

// exchange sends one command and expects an acknowledgment line.
func (m *Manager) exchange(b *boardPort, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// clear out anything the board left in its buffer
	if _, err := b.port.Write([]byte("\n")); err != nil {
		return err
	}
	if _, _, err := b.r.readLine(); err != nil {
		return err
	}

	cmd := command(b.id, code)
	if _, err := b.port.Write([]byte(cmd + "\n")); err != nil {
		return err
	}
	reply, _, err := b.r.readLine()
	if err != nil {
		return err
	}

	m.log.Debug("command sent", zap.String("port", b.name), zap.String("command", cmd), zap.String("reply", reply))
	if !isAck(reply) {
		return &ReplyError{Board: b.id, Command: cmd, Reply: reply}
	}
	return nil
}

// transmit requests a data dump and forwards every frame line until the
// board acknowledges or the read times out.
func (m *Manager) transmit(b *boardPort) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.port.Write([]byte(command(b.id, CodeTransmit) + "\n")); err != nil {
		return err
	}

	for {
		line, ok, err := b.r.readLine()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		switch {
		case len(line) < 4:
			m.log.Debug("short message ignored", zap.Uint8("board", b.id), zap.String("line", line))
		case len(line) == 4:
			if isAck(line) {
				return nil
			}
		default:
			if m.sink != nil {
				m.sink.Queue(line)
			}
		}
	}
}

// ------------------------------------------------------------
// Session lifecycle
// ------------------------------------------------------------

// LoggingStarted starts every board, then polls them until LoggingStopped.
// A board that does not acknowledge is logged; the session goes on.
func (m *Manager) LoggingStarted(sessionID int64, _ time.Time) {
	m.life.Lock()
	defer m.life.Unlock()

	if m.cancel != nil {
		return
	}

	boards := m.sorted()
	for _, b := range boards {
		if err := m.exchange(b, CodeStart); err != nil {
			m.deviceError("board did not start", b.id, err)
			continue
		}
		m.log.Debug("board started", zap.Uint8("board", b.id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.poll(ctx, boards)

	m.log.Info("serial polling started", zap.Int64("session", sessionID), zap.Int("boards", len(boards)))
}

// LoggingStopped joins the polling loop, drains each board and stops it.
func (m *Manager) LoggingStopped() {
	m.life.Lock()
	defer m.life.Unlock()

	if !m.stopPolling() {
		return
	}

	for _, b := range m.sorted() {
		if err := m.transmit(b); err != nil {
			m.deviceError("drain failed", b.id, err)
		}
		if err := m.exchange(b, CodeStop); err != nil {
			m.deviceError("board did not stop", b.id, err)
		}
	}
	m.log.Info("serial polling stopped")
}

// stopPolling cancels and joins the polling loop. Callers hold life.
func (m *Manager) stopPolling() bool {
	if m.cancel == nil {
		return false
	}
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
	return true
}

// Polling reports whether the polling loop is active for a session.
func (m *Manager) Polling() bool {
	m.life.Lock()
	defer m.life.Unlock()
	return m.cancel != nil
}

func (m *Manager) poll(ctx context.Context, boards []*boardPort) {
	defer m.wg.Done()

	t := time.NewTicker(m.opts.PollInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		for _, b := range boards {
			if ctx.Err() != nil {
				return
			}

			if err := m.transmit(b); err != nil {
				failures++
				m.deviceError("read failed", b.id, err)
				if failures > m.opts.MaxRetries {
					err = fmt.Errorf("%w: %d consecutive failures: %v", ErrMaxRetries, failures, err)
					m.tracker.Fail(err)
					m.tracker.Stopped()
					m.notify.Notify(ctx, notify.New(notify.Error, "serial", err.Error()))
					m.log.Error("serial polling abandoned", zap.Error(err))
					return
				}
				continue
			}

			failures = 0
			m.tracker.OK()
		}
	}
}

func (m *Manager) deviceError(msg string, id uint8, err error) {
	m.log.Warn(msg, zap.Uint8("board", id), zap.Error(err))
	m.tracker.Fail(err)
	m.metrics.DeviceError("serial")
}

// ------------------------------------------------------------
// Relayed commands
// ------------------------------------------------------------

// SendCommand queues command for the board. It does not wait for the
// exchange; Run performs it.
func (m *Manager) SendCommand(id uint8, command string) error {
	if _, ok := m.board(id); !ok {
		return fmt.Errorf("%w: %02X", ErrNoBoard, id)
	}

	select {
	case m.cmds <- relayed{board: id, command: command}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run performs relayed commands until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-m.cmds:
			b, ok := m.board(c.board)
			if !ok {
				continue
			}
			if err := m.exchange(b, c.command); err != nil {
				m.deviceError("relayed command failed", c.board, err)
				m.notify.Notify(ctx, notify.New(notify.Warning, "serial", err.Error()))
				continue
			}
			m.log.Info("relayed command acknowledged", zap.Uint8("board", c.board), zap.String("command", c.command))
		}
	}
}

// Close stops polling without commanding the boards and closes every port.
func (m *Manager) Close() error {
	m.life.Lock()
	m.stopPolling()
	m.life.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, b := range m.boards {
		if err := b.port.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.boards, id)
	}
	return errors.Join(errs...)
}
