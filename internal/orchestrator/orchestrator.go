// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/board"
	"github.com/tamzrod/datalogger/internal/events"
	"github.com/tamzrod/datalogger/internal/metrics"
	"github.com/tamzrod/datalogger/internal/notify"
	"github.com/tamzrod/datalogger/internal/status"
	"github.com/tamzrod/datalogger/internal/store"
	"github.com/tamzrod/datalogger/internal/wire"
)

// ErrNoStorage is returned by session operations when storage is disabled.
var ErrNoStorage = errors.New("orchestrator: no local storage")

// DefaultBlockSize is the number of frames per download block.
const DefaultBlockSize = 100

// Device is a device manager as seen by the orchestrator.
type Device struct {
	Name   string
	Boards func() []uint8
	Status func() status.Snapshot
}

// Options wire the orchestrator's collaborators. Store may be nil.
type Options struct {
	Store     *store.Store
	Registry  *board.Registry
	Hub       *events.Hub
	BlockSize int

	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Notifier notify.Notifier
}

// Orchestrator owns the logging session. It is the backend of every
// server connection and the frame sink of every device manager.
type Orchestrator struct {
	store     *store.Store
	registry  *board.Registry
	hub       *events.Hub
	blockSize int

	log     *zap.Logger
	metrics *metrics.Metrics
	notify  notify.Notifier

	mu      sync.Mutex // serializes start/stop
	logging atomic.Bool

	dmu     sync.Mutex
	devices []Device

	now func() time.Time
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Hub == nil {
		opts.Hub = &events.Hub{}
	}
	if opts.Registry == nil {
		opts.Registry = board.NewRegistry(nil, opts.Logger)
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}

	o := &Orchestrator{
		store:     opts.Store,
		registry:  opts.Registry,
		hub:       opts.Hub,
		blockSize: opts.BlockSize,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		notify:    opts.Notifier,
		now:       time.Now,
	}

	// a session still open in a loaded snapshot ended with the previous process
	if o.store != nil {
		if s, ok := o.store.Active(); ok {
			if _, err := o.store.StopSession(o.now()); err == nil {
				o.log.Warn("unfinished session closed", zap.Int64("session", s.ID))
			}
		}
	}
	return o
}

// AddDevice registers a device manager for board listing and status.
// Session events reach managers through the hub, not through here.
func (o *Orchestrator) AddDevice(d Device) {
	o.dmu.Lock()
	o.devices = append(o.devices, d)
	o.dmu.Unlock()
}

func (o *Orchestrator) deviceList() []Device {
	o.dmu.Lock()
	defer o.dmu.Unlock()
	return append([]Device(nil), o.devices...)
}

// ------------------------------------------------------------
// server.Backend
// ------------------------------------------------------------

func (o *Orchestrator) StorageReady() bool { return o.store != nil }

func (o *Orchestrator) Logging() bool { return o.logging.Load() }

// StartLogging opens a session and starts every device manager.
// Starting while a session runs joins it.
func (o *Orchestrator) StartLogging() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.store == nil {
		return ErrNoStorage
	}
	if o.logging.Load() {
		return nil
	}

	sess, err := o.store.StartSession(o.now())
	if err != nil {
		return fmt.Errorf("orchestrator: start session: %w", err)
	}
	o.logging.Store(true)
	o.metrics.SetLogging(true)

	o.hub.LoggingStarted(sess.ID, sess.Started)

	o.log.Info("logging started", zap.Int64("session", sess.ID))
	o.notify.Notify(context.Background(), notify.New(notify.Info, "session", fmt.Sprintf("session %d started", sess.ID)))
	return nil
}

// StopLogging stops every device manager, then closes the session so
// frames drained during the stop still belong to it.
func (o *Orchestrator) StopLogging() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.logging.Load() {
		return nil
	}

	o.hub.LoggingStopped()
	o.logging.Store(false)
	o.metrics.SetLogging(false)

	sess, err := o.store.StopSession(o.now())
	if err != nil {
		return fmt.Errorf("orchestrator: stop session: %w", err)
	}
	if err := o.store.Save(); err != nil {
		o.log.Error("snapshot not saved", zap.Error(err))
		o.notify.Notify(context.Background(), notify.New(notify.Error, "store", err.Error()))
	}

	o.log.Info("logging stopped", zap.Int64("session", sess.ID), zap.Int("frames", sess.Readings))
	o.notify.Notify(context.Background(), notify.New(notify.Info, "session",
		fmt.Sprintf("session %d stopped with %d frames", sess.ID, sess.Readings)))
	return nil
}

func (o *Orchestrator) SessionList() ([]string, error) {
	if o.store == nil {
		return nil, ErrNoStorage
	}

	sessions := o.store.Sessions()
	lines := make([]string, 0, len(sessions))
	for _, s := range sessions {
		lines = append(lines, wire.FormatSession(wire.SessionInfo{
			ID:       s.ID,
			Started:  s.Started,
			Stopped:  s.Stopped,
			Readings: s.Readings,
		}))
	}
	return lines, nil
}

// SessionBlocks splits a session's frames into download blocks.
func (o *Orchestrator) SessionBlocks(id int64) ([][]string, error) {
	if o.store == nil {
		return nil, ErrNoStorage
	}
	frames, err := o.store.Frames(id)
	if err != nil {
		return nil, err
	}
	return chunk(frames, o.blockSize), nil
}

func chunk(lines []string, size int) [][]string {
	var out [][]string
	for len(lines) > 0 {
		n := size
		if n > len(lines) {
			n = len(lines)
		}
		out = append(out, lines[:n:n])
		lines = lines[n:]
	}
	return out
}

func (o *Orchestrator) Latest() (string, bool) {
	if o.store == nil {
		return "", false
	}
	return o.store.Latest()
}

func (o *Orchestrator) Relay(args []string) error {
	if err := o.registry.Relay(args); err != nil {
		o.log.Warn("board command not relayed", zap.Strings("args", args), zap.Error(err))
		return err
	}
	return nil
}

// Boards lists connected board ids in device registration order.
func (o *Orchestrator) Boards() []string {
	var ids []string
	for _, d := range o.deviceList() {
		if d.Boards == nil {
			continue
		}
		for _, id := range d.Boards() {
			ids = append(ids, fmt.Sprintf("%02X", id))
		}
	}
	return ids
}

// ------------------------------------------------------------
// Frame sink
// ------------------------------------------------------------

// Queue records a raw frame polled from a device: it is appended to the
// running session and decoded onto the live cache.
func (o *Orchestrator) Queue(frame string) {
	if o.store != nil {
		o.store.Queue(frame)
	}

	id, _ := board.PeekID(frame)
	recs, err := o.registry.Dispatch(frame, nil)
	switch {
	case err != nil:
		o.metrics.Frame(id, metrics.FrameError)
		o.log.Warn("frame not decoded", zap.String("frame", frame), zap.Error(err))
		o.notify.Notify(context.Background(), notify.New(notify.Warning, "codec", err.Error()))
	case len(recs) == 0:
		o.metrics.Frame(id, metrics.FrameUnknown)
	default:
		o.metrics.Frame(id, metrics.FrameOK)
	}
}

// ------------------------------------------------------------
// Status
// ------------------------------------------------------------

// Snapshot is the display form of the logger state.
type Snapshot struct {
	Logging bool            `json:"logging"`
	Session int64           `json:"session,omitempty"`
	Storage bool            `json:"storage"`
	Boards  []string        `json:"boards"`
	Devices []status.Report `json:"devices"`
}

func (o *Orchestrator) Status() Snapshot {
	s := Snapshot{
		Logging: o.Logging(),
		Storage: o.StorageReady(),
		Boards:  o.Boards(),
	}
	if o.store != nil {
		if a, ok := o.store.Active(); ok {
			s.Session = a.ID
		}
	}

	devices := o.deviceList()
	sort.SliceStable(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	for _, d := range devices {
		if d.Status == nil {
			continue
		}
		s.Devices = append(s.Devices, status.Encode(d.Name, d.Status()))
	}
	return s
}

// Shutdown stops a running session and saves the store.
func (o *Orchestrator) Shutdown() error {
	if err := o.StopLogging(); err != nil {
		return err
	}
	if o.store == nil {
		return nil
	}
	return o.store.Save()
}
