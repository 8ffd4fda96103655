// internal/board/registry.go
package board

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrDuplicateBoard = errors.New("board: duplicate board id")
	ErrUnknownBoard   = errors.New("board: unknown board id")
	ErrNoCommander    = errors.New("board: no command route")
)

// Record is one stored value. SessionID 0 marks a cache entry.
type Record struct {
	SessionID  int64
	Time       time.Time
	CategoryID int64
	Variable   string
	Value      float64
}

// Cached reports whether r is an unsessioned cache entry.
func (r Record) Cached() bool { return r.SessionID == 0 }

// Session identifies the logging run frames belong to.
// Frame timestamps are milliseconds offset from Start. With a Clock the
// 16-bit timestamps are unfolded across wraps.
type Session struct {
	ID    int64
	Start time.Time
	Clock *Clock
}

// Sink is the storage the dispatcher writes through.
type Sink interface {
	CategoryID(variable string) (int64, error)
	AddCache(recs []Record) error
	AddReadings(recs []Record) error
	MarkAvailable(sessionID int64) error
}

// Commander delivers a relayed command to a physical board.
// command excludes the board id.
type Commander interface {
	SendCommand(boardID uint8, command string) error
}

// Registry maps board ids to boards and turns raw frames into records.
// Boards are registered once at startup; lookups are read-mostly afterwards.
type Registry struct {
	mu        sync.RWMutex
	boards    map[uint8]Board
	commander Commander
	onDecode  func(Frame)

	sink Sink
	now  func() time.Time
	log  *zap.Logger
}

func NewRegistry(sink Sink, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		boards: make(map[uint8]Board),
		sink:   sink,
		now:    time.Now,
		log:    logger,
	}
}

// Register adds b. A second board with the same id is rejected.
func (r *Registry) Register(b Board) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.boards[b.ID()]; ok {
		return fmt.Errorf("%w: %02X (%s already registered)", ErrDuplicateBoard, b.ID(), prev.Name())
	}
	r.boards[b.ID()] = b
	return nil
}

// SetCommander routes relayed board commands.
func (r *Registry) SetCommander(c Commander) {
	r.mu.Lock()
	r.commander = c
	r.mu.Unlock()
}

// OnDecode installs a hook called with every successfully decoded frame.
func (r *Registry) OnDecode(fn func(Frame)) {
	r.mu.Lock()
	r.onDecode = fn
	r.mu.Unlock()
}

// IDs returns the registered board ids in ascending order.
func (r *Registry) IDs() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint8, 0, len(r.boards))
	for id := range r.boards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) lookup(id uint8) (Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[id]
	return b, ok
}

// Dispatch decodes raw and returns one record per board variable.
//
// With a session, records are session readings stamped from the frame
// timestamp and are returned for the caller to store. Without one they are
// cache entries stamped now and written to the sink immediately.
// An unknown board id yields no records and no error.
func (r *Registry) Dispatch(raw string, s *Session) ([]Record, error) {
	id, err := PeekID(raw)
	if err != nil {
		return nil, err
	}

	b, ok := r.lookup(id)
	if !ok {
		r.log.Debug("frame for unknown board ignored", zap.Uint8("board", id))
		return nil, nil
	}

	f, err := b.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("board %02X: %w", id, err)
	}

	r.mu.RLock()
	hook := r.onDecode
	r.mu.RUnlock()
	if hook != nil {
		hook(f)
	}

	vars := b.Variables(f)
	recs := make([]Record, 0, len(vars))

	at := r.now()
	var sid int64
	if s != nil {
		sid = s.ID
		off := time.Duration(f.Timestamp) * time.Millisecond
		if s.Clock != nil {
			off = s.Clock.Offset(f.Sender, f.Timestamp)
		}
		at = s.Start.Add(off)
	}

	for _, v := range vars {
		rec := Record{SessionID: sid, Time: at, Variable: v.Name, Value: v.Value}
		if r.sink != nil {
			cat, err := r.sink.CategoryID(v.Name)
			if err != nil {
				return nil, fmt.Errorf("board %02X: category %q: %w", id, v.Name, err)
			}
			rec.CategoryID = cat
		}
		recs = append(recs, rec)
	}

	if s == nil && r.sink != nil && len(recs) > 0 {
		if err := r.sink.AddCache(recs); err != nil {
			return nil, fmt.Errorf("board %02X: cache: %w", id, err)
		}
	}

	return recs, nil
}

// DispatchBatch decodes a block of session frames, stores every reading in
// one call and marks the session available once anything landed.
// Frames that fail to decode are logged and skipped. Lines must be in
// logging order; pass the same Clock for every block of one download.
func (r *Registry) DispatchBatch(lines []string, s Session) ([]Record, error) {
	if s.Clock == nil {
		s.Clock = NewClock()
	}

	var all []Record
	for _, line := range lines {
		if line == "" {
			continue
		}
		recs, err := r.Dispatch(line, &s)
		if err != nil {
			r.log.Warn("session frame dropped", zap.Int64("session", s.ID), zap.String("frame", line), zap.Error(err))
			continue
		}
		all = append(all, recs...)
	}

	if len(all) == 0 || r.sink == nil {
		return all, nil
	}
	if err := r.sink.AddReadings(all); err != nil {
		return nil, fmt.Errorf("board: store readings: %w", err)
	}
	if err := r.sink.MarkAvailable(s.ID); err != nil {
		return nil, fmt.Errorf("board: mark session %d available: %w", s.ID, err)
	}
	return all, nil
}

// Relay forwards the arguments of a BOARD command, e.g. ["09", "85", "0000", "0A"],
// to the board they address. The joined string is "<id><command...>".
func (r *Registry) Relay(args []string) error {
	joined := strings.Join(args, "")
	if len(joined) < 2 {
		return fmt.Errorf("board: relay %q: %w", joined, ErrFrameTooShort)
	}

	id64, err := strconv.ParseUint(joined[:2], 16, 8)
	if err != nil {
		return fmt.Errorf("board: relay %q: %w", joined, ErrInvalidHex)
	}
	id := uint8(id64)

	if _, ok := r.lookup(id); !ok {
		return fmt.Errorf("%w: %02X", ErrUnknownBoard, id)
	}

	r.mu.RLock()
	c := r.commander
	r.mu.RUnlock()
	if c == nil {
		return ErrNoCommander
	}
	return c.SendCommand(id, joined[2:])
}
