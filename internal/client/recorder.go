// internal/client/recorder.go
package client

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/board"
	"github.com/tamzrod/datalogger/internal/store"
	"github.com/tamzrod/datalogger/internal/wire"
)

// Recorder stores what the client receives: session lists, downloaded
// session data and live cache lines.
type Recorder struct {
	NopListener

	store    *store.Store
	registry *board.Registry
	log      *zap.Logger

	// one timestamp clock per download in progress
	mu     sync.Mutex
	clocks map[int64]*board.Clock
}

func NewRecorder(st *store.Store, reg *board.Registry, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: st, registry: reg, log: logger, clocks: make(map[int64]*board.Clock)}
}

func (r *Recorder) SessionList(list []wire.SessionInfo) {
	sessions := make([]store.Session, 0, len(list))
	for _, si := range list {
		sessions = append(sessions, store.Session{
			ID:       si.ID,
			Started:  si.Started,
			Stopped:  si.Stopped,
			Readings: si.Readings,
		})
	}
	r.store.PutSessions(sessions)
	r.log.Info("session list updated", zap.Int("sessions", len(sessions)))
}

// DataBlock decodes one download block against its session and stores
// the readings as one batch.
func (r *Recorder) DataBlock(id int64, lines []string) {
	sess, err := r.store.Session(id)
	if err != nil {
		// Session list not fetched yet; frames are then offset from zero time.
		r.log.Warn("download for unlisted session", zap.Int64("session", id))
		r.store.PutSessions([]store.Session{{ID: id}})
	}

	recs, err := r.registry.DispatchBatch(lines, board.Session{ID: id, Start: sess.Started, Clock: r.clock(id)})
	if err != nil {
		r.log.Error("download block not stored", zap.Int64("session", id), zap.Error(err))
		return
	}
	r.log.Debug("download block stored", zap.Int64("session", id), zap.Int("lines", len(lines)), zap.Int("readings", len(recs)))
}

func (r *Recorder) clock(id int64) *board.Clock {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clocks[id]
	if !ok {
		c = board.NewClock()
		r.clocks[id] = c
	}
	return c
}

// ProcessFinished ends any download, so the next one starts a fresh clock.
func (r *Recorder) ProcessFinished() {
	r.mu.Lock()
	clear(r.clocks)
	r.mu.Unlock()
}

func (r *Recorder) CacheLine(line string) {
	if len(line) < board.MinHexLen {
		return
	}
	if _, err := r.registry.Dispatch(line, nil); err != nil {
		r.log.Warn("cache line dropped", zap.String("line", line), zap.Error(err))
	}
}

func (r *Recorder) LoggerError(msg string) {
	r.log.Warn("logger reported error", zap.String("msg", msg))
}
