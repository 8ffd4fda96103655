// internal/poller/manager.go
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/metrics"
	"github.com/tamzrod/datalogger/internal/status"
)

// FrameSink receives encoded GPIO frames.
type FrameSink interface {
	Queue(frame string)
}

// Manager runs the poller for the duration of each logging session.
type Manager struct {
	p       *Poller
	sink    FrameSink
	log     *zap.Logger
	metrics *metrics.Metrics
	tracker *status.Tracker

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(p *Poller, sink FrameSink, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		p:       p,
		sink:    sink,
		log:     logger,
		metrics: m,
		tracker: status.NewTracker(),
	}
}

// ID is the board id of emitted frames.
func (m *Manager) ID() uint8 { return m.p.BoardID() }

func (m *Manager) Status() status.Snapshot { return m.tracker.Snapshot() }

func (m *Manager) LoggingStarted(sessionID int64, start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	out := make(chan Sample)
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		defer close(out)
		m.p.Run(ctx, start, out)
	}()
	go func() {
		defer m.wg.Done()
		m.consume(out)
	}()

	m.log.Info("gpio polling started", zap.Int64("session", sessionID))
}

// LoggingStopped returns once no further reads will be issued.
func (m *Manager) LoggingStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
	m.log.Info("gpio polling stopped")
}

func (m *Manager) consume(in <-chan Sample) {
	for s := range in {
		if s.Err != nil {
			m.tracker.Fail(s.Err)
			m.metrics.DeviceError("gpio")
			m.log.Warn("gpio read failed", zap.Error(s.Err))
			continue
		}
		m.tracker.OK()
		if m.sink != nil {
			m.sink.Queue(s.Frame)
		}
	}
}

// Close releases the Modbus connection. Call after the last session ended.
func (m *Manager) Close() error {
	m.LoggingStopped()
	return m.p.Close()
}
