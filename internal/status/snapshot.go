// internal/status/snapshot.go
package status

import (
	"errors"
	"sync"
	"time"
)

// Snapshot is the current health of one device manager.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	LastError      string
	SecondsInError uint16
}

// Tracker owns a manager's snapshot. Managers report outcomes; readers
// take consistent copies.
type Tracker struct {
	mu    sync.Mutex
	snap  Snapshot
	since time.Time
	now   func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// OK records a successful exchange and clears error state.
func (t *Tracker) OK() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap = Snapshot{Health: HealthOK}
	t.since = time.Time{}
}

// Fail records a failed exchange. The error window starts at the first
// failure after a healthy state.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Health != HealthError || t.since.IsZero() {
		t.since = t.now()
	}
	t.snap.Health = HealthError
	t.snap.LastErrorCode = ErrorCode(err)
	if err != nil {
		t.snap.LastError = err.Error()
	}
}

// Stopped marks the manager loop as exited, keeping the last error.
func (t *Tracker) Stopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Health = HealthStopped
}

// Snapshot returns a copy with SecondsInError computed at call time.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.snap
	if s.Health != HealthOK && !t.since.IsZero() {
		secs := t.now().Sub(t.since) / time.Second
		if secs > MaxSecondsInError {
			secs = MaxSecondsInError
		}
		s.SecondsInError = uint16(secs)
	}
	return s
}

// ErrorCode extracts a best-effort code from an error without assuming
// concrete types. Errors that expose no code map to GenericErrorCode.
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	type coderA interface{ Code() uint16 }
	type coderB interface{ ErrorCode() uint16 }

	var a coderA
	if errors.As(err, &a) {
		return a.Code()
	}
	var b coderB
	if errors.As(err, &b) {
		return b.ErrorCode()
	}
	return GenericErrorCode
}
