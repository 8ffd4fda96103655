// internal/store/store.go
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/board"
)

var (
	ErrUnknownSession = errors.New("store: unknown session")
	ErrNoActive       = errors.New("store: no active session")
	ErrActive         = errors.New("store: session already active")
)

// DefaultCacheSize bounds the live cache.
const DefaultCacheSize = 5000

// Session is one logging run.
type Session struct {
	ID        int64
	Started   time.Time
	Stopped   time.Time
	Available bool
	Readings  int // frames logged by the server for this session
}

// Running reports whether the session has not been stopped.
func (s Session) Running() bool { return s.Stopped.IsZero() }

// data is the persisted state.
type data struct {
	NextSession  int64
	NextCategory int64
	Categories   map[string]int64
	Sessions     []Session
	Frames       map[int64][]string
	Readings     []board.Record
	Cache        []board.Record
	Active       int64
	Latest       string
}

// Store is the local storage collaborator: categories, sessions, raw
// session frames, decoded readings and the live cache. State lives in
// memory and is snapshotted to a CBOR file when a path is configured.
type Store struct {
	mu       sync.Mutex
	d        data
	path     string
	maxCache int
	log      *zap.Logger
}

// New returns an empty store persisted at path ("" keeps it in memory).
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		d:        emptyData(),
		path:     path,
		maxCache: DefaultCacheSize,
		log:      logger,
	}
}

// SetCacheSize bounds the live cache to n records; n <= 0 keeps the default.
func (s *Store) SetCacheSize(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxCache = n
	s.mu.Unlock()
}

func emptyData() data {
	return data{
		Categories: make(map[string]int64),
		Frames:     make(map[int64][]string),
	}
}

// ---- board.Sink ----

func (s *Store) CategoryID(variable string) (int64, error) {
	if variable == "" {
		return 0, errors.New("store: empty variable name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.d.Categories[variable]; ok {
		return id, nil
	}
	s.d.NextCategory++
	s.d.Categories[variable] = s.d.NextCategory
	return s.d.NextCategory, nil
}

func (s *Store) AddCache(recs []board.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.d.Cache = append(s.d.Cache, recs...)
	if over := len(s.d.Cache) - s.maxCache; over > 0 {
		s.d.Cache = append([]board.Record(nil), s.d.Cache[over:]...)
	}
	return nil
}

func (s *Store) AddReadings(recs []board.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.d.Readings = append(s.d.Readings, recs...)
	return nil
}

func (s *Store) MarkAvailable(sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(sessionID)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownSession, sessionID)
	}
	s.d.Sessions[i].Available = true
	return nil
}

// ---- sessions ----

// StartSession opens a new session and makes it the target of Queue.
func (s *Store) StartSession(at time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.d.Active != 0 {
		return Session{}, fmt.Errorf("%w: %d", ErrActive, s.d.Active)
	}

	s.d.NextSession++
	sess := Session{ID: s.d.NextSession, Started: at}
	s.d.Sessions = append(s.d.Sessions, sess)
	s.d.Active = sess.ID
	s.d.Latest = ""
	return sess, nil
}

// StopSession closes the active session.
func (s *Store) StopSession(at time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.d.Active == 0 {
		return Session{}, ErrNoActive
	}
	i := s.index(s.d.Active)
	s.d.Active = 0
	if i < 0 {
		return Session{}, ErrUnknownSession
	}
	s.d.Sessions[i].Stopped = at
	return s.d.Sessions[i], nil
}

// Active returns the running session, if any.
func (s *Store) Active() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.d.Active == 0 {
		return Session{}, false
	}
	i := s.index(s.d.Active)
	if i < 0 {
		return Session{}, false
	}
	return s.d.Sessions[i], true
}

// Session returns one session by id.
func (s *Store) Session(id int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return Session{}, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	return s.d.Sessions[i], nil
}

// Sessions returns all sessions ordered by id.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Session(nil), s.d.Sessions...)
}

// PutSessions merges session metadata received from a remote logger,
// keeping local availability.
func (s *Store) PutSessions(list []Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range list {
		if i := s.index(in.ID); i >= 0 {
			in.Available = s.d.Sessions[i].Available
			s.d.Sessions[i] = in
			continue
		}
		in.Available = false
		s.d.Sessions = append(s.d.Sessions, in)
		if in.ID > s.d.NextSession {
			s.d.NextSession = in.ID
		}
	}
	sort.Slice(s.d.Sessions, func(i, j int) bool { return s.d.Sessions[i].ID < s.d.Sessions[j].ID })
}

func (s *Store) index(id int64) int {
	for i := range s.d.Sessions {
		if s.d.Sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// ---- raw frames ----

// Queue appends a raw frame to the active session and remembers it as the
// latest frame. Without an active session only the latest frame is kept.
func (s *Store) Queue(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.d.Latest = frame
	if s.d.Active == 0 {
		return
	}
	s.d.Frames[s.d.Active] = append(s.d.Frames[s.d.Active], frame)
	if i := s.index(s.d.Active); i >= 0 {
		s.d.Sessions[i].Readings++
	}
}

// Frames returns the raw frames of a session in logging order.
func (s *Store) Frames(id int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index(id) < 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	return append([]string(nil), s.d.Frames[id]...), nil
}

// Latest returns the most recently queued frame.
func (s *Store) Latest() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Latest, s.d.Latest != ""
}

// ---- decoded data ----

// Readings returns the stored readings of one session.
func (s *Store) Readings(sessionID int64) []board.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []board.Record
	for _, r := range s.d.Readings {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

// Cache returns cache entries newer than since.
func (s *Store) Cache(since time.Time) []board.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []board.Record
	for _, r := range s.d.Cache {
		if r.Time.After(since) {
			out = append(out, r)
		}
	}
	return out
}
