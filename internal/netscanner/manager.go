// internal/netscanner/manager.go
package netscanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tamzrod/datalogger/internal/metrics"
	"github.com/tamzrod/datalogger/internal/notify"
	"github.com/tamzrod/datalogger/internal/status"
)

var ErrMaxRetries = errors.New("netscanner: max retries exceeded")

// Device commands, sent in order after connecting.
// The last one reads all channels and is repeated while logging.
var initSequence = []struct {
	cmd  string
	what string
}{
	{"A", "connection check"},
	{"B", "reset device"},
	{"v01101 6.894757", "use kPa"},
	{"h", "zero offsets"},
}

const readCommand = "b"

// FrameSink receives the converted frames.
type FrameSink interface {
	Queue(frame string)
}

type Options struct {
	Address    string
	BoardID    uint8
	SampleHz   float64
	Timeout    time.Duration
	MaxRetries int
}

type control struct {
	start bool
	at    time.Time
	done  chan struct{}
}

// Manager drives a networked pressure scanner over TCP. Run owns the
// connection; logging is switched through LoggingStarted/LoggingStopped,
// which return once the loop has taken the change.
type Manager struct {
	opts Options
	dial func(ctx context.Context) (net.Conn, error)

	sink    FrameSink
	log     *zap.Logger
	metrics *metrics.Metrics
	notify  notify.Notifier
	tracker *status.Tracker

	ctrl   chan control
	exited chan struct{}
	once   sync.Once
}

func NewManager(opts Options, sink FrameSink, logger *zap.Logger, m *metrics.Metrics, n notify.Notifier) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n == nil {
		n = notify.Nop{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.SampleHz <= 0 {
		opts.SampleHz = 2
	}

	mgr := &Manager{
		opts:    opts,
		sink:    sink,
		log:     logger,
		metrics: m,
		notify:  n,
		tracker: status.NewTracker(),
		ctrl:    make(chan control),
		exited:  make(chan struct{}),
	}
	mgr.dial = func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: opts.Timeout}
		return d.DialContext(ctx, "tcp", opts.Address)
	}
	return mgr
}

// ID is the board id the scanner's frames carry.
func (m *Manager) ID() uint8 { return m.opts.BoardID }

// Status returns the manager's health snapshot.
func (m *Manager) Status() status.Snapshot { return m.tracker.Snapshot() }

// ------------------------------------------------------------
// Session control
// ------------------------------------------------------------

func (m *Manager) LoggingStarted(_ int64, start time.Time) {
	m.send(control{start: true, at: start})
}

// LoggingStopped returns after the loop has issued its last read request.
func (m *Manager) LoggingStopped() {
	m.send(control{})
}

func (m *Manager) send(c control) {
	c.done = make(chan struct{})
	select {
	case m.ctrl <- c:
	case <-m.exited:
		return
	}
	select {
	case <-c.done:
	case <-m.exited:
	}
}

// ------------------------------------------------------------
// Loop
// ------------------------------------------------------------

// loop state, owned by Run
type loop struct {
	conn    net.Conn
	r       *bufio.Reader
	step    int
	logging bool
	start   time.Time
	retries int
}

// Run connects and drives the device until ctx is done. Exceeding the
// retry budget ends Run with ErrMaxRetries; nothing else is affected.
func (m *Manager) Run(ctx context.Context) error {
	defer m.once.Do(func() { close(m.exited) })

	conn, err := m.dial(ctx)
	if err != nil {
		err = fmt.Errorf("netscanner: connect %s: %w", m.opts.Address, err)
		m.fatal(ctx, err)
		return err
	}
	defer conn.Close()
	m.log.Info("connected", zap.String("address", m.opts.Address))

	// unblock a pending read on shutdown
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	limiter := rate.NewLimiter(rate.Limit(m.opts.SampleHz), 1)
	l := &loop{conn: conn, r: bufio.NewReader(conn)}

	for {
		if ctx.Err() != nil {
			return nil
		}

		// initialization: one step per iteration
		if l.step < len(initSequence) {
			m.poll(l)
			s := initSequence[l.step]
			if _, err := m.exchange(l, s.cmd); err != nil {
				if err := m.failed(ctx, l, err); err != nil {
					return err
				}
				// back off before retrying the same step
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				continue
			}
			m.log.Debug("init step sent", zap.String("step", s.what))
			l.step++
			continue
		}

		// idle: wait for a session
		if !l.logging {
			select {
			case <-ctx.Done():
				return nil
			case c := <-m.ctrl:
				m.apply(l, c)
			}
			continue
		}

		if m.poll(l) {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		reply, err := m.exchange(l, readCommand)
		if err != nil {
			if err := m.failed(ctx, l, err); err != nil {
				return err
			}
			continue
		}
		if reply == "" {
			continue
		}
		m.sample(l, reply)
	}
}

// poll applies a pending control message without blocking.
func (m *Manager) poll(l *loop) bool {
	select {
	case c := <-m.ctrl:
		m.apply(l, c)
		return true
	default:
		return false
	}
}

func (m *Manager) apply(l *loop, c control) {
	l.logging = c.start
	if c.start {
		l.start = c.at
	}
	m.log.Debug("logging switched", zap.Bool("logging", l.logging))
	close(c.done)
}

// exchange writes one command and reads the reply. A read timeout yields
// an empty reply and no error. Input left over from an earlier reply is
// dropped first.
func (m *Manager) exchange(l *loop, cmd string) (string, error) {
	if err := l.conn.SetDeadline(time.Now().Add(m.opts.Timeout)); err != nil {
		return "", err
	}
	if n := l.r.Buffered(); n > 0 {
		l.r.Discard(n)
	}
	if _, err := l.conn.Write([]byte(cmd)); err != nil {
		return "", err
	}

	var (
		reply string
		err   error
	)
	if cmd == readCommand {
		reply, err = readReading(l.r)
	} else {
		buf := make([]byte, 1024)
		var n int
		n, err = l.r.Read(buf)
		reply = strings.TrimSpace(string(buf[:n]))
	}
	if err != nil {
		if isTimeout(err) {
			m.log.Debug("no reply", zap.String("command", cmd))
			return "", nil
		}
		return "", err
	}

	l.retries = 0
	m.tracker.OK()
	return reply, nil
}

// readReading collects ReplyLen characters of a channel reading, skipping
// whitespace, across as many reads as the reply needs. A lone "A" is the
// device acknowledging instead. A deadline hit mid-reply returns the
// partial reply so it is reported as incomplete.
func readReading(r *bufio.Reader) (string, error) {
	reply := make([]byte, 0, ReplyLen)
	for len(reply) < ReplyLen {
		c, err := r.ReadByte()
		if err != nil {
			if len(reply) > 0 && isTimeout(err) {
				return string(reply), nil
			}
			return "", err
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		reply = append(reply, c)
		if len(reply) == 1 && c == 'A' {
			rest, _ := r.Peek(r.Buffered())
			if strings.TrimSpace(string(rest)) == "" {
				return "A", nil
			}
		}
	}
	return string(reply), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (m *Manager) sample(l *loop, reply string) {
	if reply == "A" {
		m.log.Debug("device acknowledged")
		return
	}

	ts := uint16(time.Since(l.start).Milliseconds())
	frames, err := Frames(m.opts.BoardID, ts, reply)
	if err != nil {
		m.log.Warn("incomplete reading dropped", zap.Int("length", len(reply)), zap.Error(err))
		return
	}
	if m.sink == nil {
		return
	}
	for _, f := range frames {
		m.sink.Queue(f)
	}
}

// failed counts a transport failure; past the budget it returns the
// error that ends the loop.
func (m *Manager) failed(ctx context.Context, l *loop, err error) error {
	l.retries++
	m.tracker.Fail(err)
	m.metrics.DeviceError("netscanner")
	m.log.Warn("exchange failed", zap.Int("retries", l.retries), zap.Error(err))

	if l.retries <= m.opts.MaxRetries {
		return nil
	}
	err = fmt.Errorf("%w: %d consecutive failures: %v", ErrMaxRetries, l.retries, err)
	m.fatal(ctx, err)
	return err
}

func (m *Manager) fatal(ctx context.Context, err error) {
	m.tracker.Fail(err)
	m.tracker.Stopped()
	m.log.Error("scanner loop stopped", zap.Error(err))
	m.notify.Notify(ctx, notify.New(notify.Error, "netscanner", err.Error()))
}
