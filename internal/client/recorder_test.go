// internal/client/recorder_test.go
package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/datalogger/internal/board"
	"github.com/tamzrod/datalogger/internal/store"
	"github.com/tamzrod/datalogger/internal/wire"
)

func newRecorder(t *testing.T) (*Recorder, *store.Store) {
	t.Helper()
	st := store.New("", nil)
	reg := board.NewRegistry(st, nil)
	require.NoError(t, reg.Register(board.Motor()))
	return NewRecorder(st, reg, nil), st
}

func TestRecorder_DownloadedSession(t *testing.T) {
	r, st := newRecorder(t)
	start := time.UnixMilli(1700000000000).UTC()

	r.SessionList([]wire.SessionInfo{{ID: 7, Started: start, Stopped: start.Add(time.Minute), Readings: 2}})

	frames := []string{
		board.New(board.MotorID, 0, 0, 250, 0x00010002, 0x00, 0x03).Encode(),
		board.New(board.MotorID, 0, 0, 500, 0x00040005, 0x00, 0x06).Encode(),
	}
	r.DataBlock(7, frames)

	recs := st.Readings(7)
	require.Len(t, recs, 6)
	assert.Equal(t, "raw_adc", recs[0].Variable)
	assert.Equal(t, float64(1), recs[0].Value)
	assert.Equal(t, start.Add(250*time.Millisecond), recs[0].Time)
	assert.Equal(t, start.Add(500*time.Millisecond), recs[3].Time)

	sess, err := st.Session(7)
	require.NoError(t, err)
	assert.True(t, sess.Available)
}

func TestRecorder_LongSessionAcrossBlocks(t *testing.T) {
	r, st := newRecorder(t)
	start := time.UnixMilli(1700000000000).UTC()
	r.SessionList([]wire.SessionInfo{{ID: 9, Started: start, Stopped: start.Add(2 * time.Minute), Readings: 2}})

	r.DataBlock(9, []string{board.New(board.MotorID, 0, 0, 60000, 1).Encode()})
	r.DataBlock(9, []string{board.New(board.MotorID, 0, 0, uint16(70000%65536), 2).Encode()})
	r.ProcessFinished()

	recs := st.Readings(9)
	require.Len(t, recs, 6)
	assert.Equal(t, start.Add(60*time.Second), recs[0].Time)
	assert.Equal(t, start.Add(70*time.Second), recs[3].Time)

	// a new download of the same session starts from the first period
	r.DataBlock(9, []string{board.New(board.MotorID, 0, 0, 500, 3).Encode()})
	recs = st.Readings(9)
	require.Len(t, recs, 9)
	assert.Equal(t, start.Add(500*time.Millisecond), recs[6].Time)
}

func TestRecorder_UnlistedSession(t *testing.T) {
	r, st := newRecorder(t)

	r.DataBlock(3, []string{board.New(board.MotorID, 0, 0, 0, 1).Encode()})

	sess, err := st.Session(3)
	require.NoError(t, err)
	assert.True(t, sess.Available)
	assert.Len(t, st.Readings(3), 3)
}

func TestRecorder_CacheLine(t *testing.T) {
	r, st := newRecorder(t)
	before := time.Now().Add(-time.Second)

	r.CacheLine("0840")
	r.CacheLine(board.New(board.MotorID, 0, 0, 0, 0x00070008).Encode())

	cache := st.Cache(before)
	require.Len(t, cache, 3)
	for _, rec := range cache {
		assert.True(t, rec.Cached())
	}
}
