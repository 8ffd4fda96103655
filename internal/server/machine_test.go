// internal/server/machine_test.go
package server

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	sent []string
	err  error
}

func (t *fakeTransport) Send(msg string) error {
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) last() string {
	if len(t.sent) == 0 {
		return ""
	}
	return t.sent[len(t.sent)-1]
}

type fakeBackend struct {
	noStorage bool
	logging   bool
	startErr  error

	started, stopped int
	relayed          [][]string
	sessions         []string
	blocks           map[int64][][]string
	latest           string
	boards           []string
}

func (b *fakeBackend) StorageReady() bool { return !b.noStorage }
func (b *fakeBackend) Logging() bool      { return b.logging }

func (b *fakeBackend) StartLogging() error {
	if b.startErr != nil {
		return b.startErr
	}
	b.started++
	b.logging = true
	return nil
}

func (b *fakeBackend) StopLogging() error {
	b.stopped++
	b.logging = false
	return nil
}

func (b *fakeBackend) SessionList() ([]string, error) {
	if b.noStorage {
		return nil, errors.New("no storage")
	}
	return b.sessions, nil
}

func (b *fakeBackend) SessionBlocks(id int64) ([][]string, error) {
	return b.blocks[id], nil
}

func (b *fakeBackend) Latest() (string, bool) { return b.latest, b.latest != "" }

func (b *fakeBackend) Relay(args []string) error {
	b.relayed = append(b.relayed, args)
	return nil
}

func (b *fakeBackend) Boards() []string { return b.boards }

func newTestMachine(t *testing.T, be *fakeBackend) (*Machine, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	m, err := NewMachine(tr, be, nil, nil)
	require.NoError(t, err)
	return m, tr
}

func receive(t *testing.T, m *Machine, msgs ...string) {
	t.Helper()
	for _, msg := range msgs {
		require.NoError(t, m.Receive(msg), msg)
	}
}

func TestStartStop(t *testing.T) {
	be := &fakeBackend{}
	m, tr := newTestMachine(t, be)
	assert.Equal(t, "Idle", m.State())

	receive(t, m, "START")
	assert.Equal(t, "Logging", m.State())
	assert.Equal(t, []string{"ACK"}, tr.sent)
	assert.Equal(t, 1, be.started)

	receive(t, m, "START")
	assert.Equal(t, "INSESSION", tr.last())

	receive(t, m, "ISLOGGING")
	assert.Equal(t, "ACK", tr.last())

	receive(t, m, "STOP")
	assert.Equal(t, "Idle", m.State())
	assert.Equal(t, "ACK", tr.last())
	assert.Equal(t, 1, be.stopped)

	receive(t, m, "STOP", "UPDATE")
	assert.Equal(t, []string{"NOSESSION", "NOSESSION"}, tr.sent[len(tr.sent)-2:])

	receive(t, m, "ISLOGGING")
	assert.Equal(t, "NACK", tr.last())
}

func TestStart_NoStorage(t *testing.T) {
	be := &fakeBackend{noStorage: true}
	m, tr := newTestMachine(t, be)

	receive(t, m, "START")
	assert.Equal(t, "Idle", m.State())
	assert.Equal(t, []string{"ERROR 3"}, tr.sent)
	assert.Zero(t, be.started)
}

func TestStart_BackendFailure(t *testing.T) {
	be := &fakeBackend{startErr: errors.New("session store full")}
	m, tr := newTestMachine(t, be)

	receive(t, m, "START")
	assert.Equal(t, "Idle", m.State())
	assert.Equal(t, []string{"ERROR 3"}, tr.sent)
}

func TestResumeWhenAlreadyLogging(t *testing.T) {
	be := &fakeBackend{logging: true}
	m, tr := newTestMachine(t, be)

	assert.Equal(t, "Logging", m.State())
	assert.Empty(t, tr.sent)
	assert.Zero(t, be.started)

	receive(t, m, "ISLOGGING")
	assert.Equal(t, "ACK", tr.last())
}

func TestUpdate(t *testing.T) {
	be := &fakeBackend{}
	m, tr := newTestMachine(t, be)
	receive(t, m, "START", "UPDATE")
	assert.Equal(t, "ACK", tr.last())

	be.latest = "0800000000000001"
	receive(t, m, "UPDATE")
	assert.Equal(t, "0800000000000001", tr.last())
}

func TestResetFromLogging(t *testing.T) {
	be := &fakeBackend{}
	m, tr := newTestMachine(t, be)

	receive(t, m, "START", "RESET")
	assert.Equal(t, "Idle", m.State())
	assert.Equal(t, "ACK", tr.last())
	assert.Equal(t, 1, be.stopped)
}

func TestBoardCommandInAnyState(t *testing.T) {
	be := &fakeBackend{blocks: map[int64][][]string{7: {{"a"}, {"b"}}}}
	m, tr := newTestMachine(t, be)

	for _, setup := range [][]string{
		nil,                    // Idle
		{"START"},              // Logging
		{"STOP", "DOWNLOAD 7"}, // Downloading
	} {
		receive(t, m, setup...)
		before := m.State()

		receive(t, m, "BOARD 09 85 0000 0A")
		assert.Equal(t, "ACK", tr.last())
		assert.Equal(t, before, m.State())
	}

	require.Len(t, be.relayed, 3)
	for _, args := range be.relayed {
		assert.Equal(t, []string{"09", "85", "0000", "0A"}, args)
	}
}

func TestDownload(t *testing.T) {
	be := &fakeBackend{blocks: map[int64][][]string{
		7: {{"f1", "f2"}, {"f3"}, {"f4", "f5"}},
	}}
	m, tr := newTestMachine(t, be)

	receive(t, m, "DOWNLOAD 7")
	assert.Equal(t, "Downloading", m.State())
	assert.Equal(t, "f1\nf2\nACK", tr.last())

	receive(t, m, "ACK")
	assert.Equal(t, "f3\nACK", tr.last())
	assert.Equal(t, "Downloading", m.State())

	receive(t, m, "ACK")
	assert.Equal(t, "f4\nf5\nNACK", tr.last())
	assert.Equal(t, "Idle", m.State())

	var acks, nacks int
	for _, msg := range tr.sent {
		switch {
		case strings.HasSuffix(msg, "\nACK"):
			acks++
		case strings.HasSuffix(msg, "\nNACK"):
			nacks++
		}
	}
	assert.Equal(t, 2, acks)
	assert.Equal(t, 1, nacks)
	assert.True(t, strings.HasSuffix(tr.last(), "NACK"), "NACK block is last")
}

func TestDownload_SingleBlock(t *testing.T) {
	be := &fakeBackend{blocks: map[int64][][]string{2: {{"f1"}}}}
	m, tr := newTestMachine(t, be)

	receive(t, m, "DOWNLOAD 2")
	assert.Equal(t, []string{"f1\nNACK"}, tr.sent)
	assert.Equal(t, "Idle", m.State())
}

func TestDownload_Empty(t *testing.T) {
	m, tr := newTestMachine(t, &fakeBackend{})

	receive(t, m, "DOWNLOAD 3")
	assert.Equal(t, []string{"NACK"}, tr.sent)
	assert.Equal(t, "Idle", m.State())
}

func TestDownload_Malformed(t *testing.T) {
	m, tr := newTestMachine(t, &fakeBackend{})

	receive(t, m, "DOWNLOAD", "DOWNLOAD x", "DOWNLOAD 1 2")
	assert.Equal(t, []string{"NACK", "NACK", "NACK"}, tr.sent)
	assert.Equal(t, "Idle", m.State())
}

func TestDownload_ResetAborts(t *testing.T) {
	be := &fakeBackend{blocks: map[int64][][]string{7: {{"a"}, {"b"}}}}
	m, tr := newTestMachine(t, be)

	receive(t, m, "DOWNLOAD 7", "START", "RESET")
	assert.Equal(t, []string{"a\nACK", "ERROR 1", "ACK"}, tr.sent)
	assert.Equal(t, "Idle", m.State())
}

func TestUnknownCommands(t *testing.T) {
	m, tr := newTestMachine(t, &fakeBackend{})

	receive(t, m, "FOO", "ACK")
	assert.Equal(t, []string{"ERROR 2", "ERROR 2"}, tr.sent)

	receive(t, m, "START", "GETSESSIONS", "DOWNLOAD 1", "xyz")
	assert.Equal(t, []string{"ERROR 1", "ERROR 1", "ERROR 2"}, tr.sent[3:])
	assert.Equal(t, "Logging", m.State())
}

func TestGetSessions(t *testing.T) {
	be := &fakeBackend{sessions: []string{"1 1000 2000 5", "2 3000 0 9"}}
	m, tr := newTestMachine(t, be)

	receive(t, m, "GETSESSIONS")
	assert.Equal(t, "1 1000 2000 5\n2 3000 0 9\nNACK", tr.last())

	be.noStorage = true
	receive(t, m, "GETSESSIONS")
	assert.Equal(t, "NACK", tr.last())
}

func TestBoards(t *testing.T) {
	m, tr := newTestMachine(t, &fakeBackend{boards: []string{"08", "0A"}})

	receive(t, m, "BOARDS")
	assert.Equal(t, "BOARDS 08 0A", tr.last())
}

func TestClosed(t *testing.T) {
	be := &fakeBackend{}
	m, tr := newTestMachine(t, be)
	m.Close()
	assert.Equal(t, "Closed", m.State())

	require.NoError(t, m.Receive("BOARD 08 88"))
	assert.Equal(t, "ACK", tr.last())

	err := m.Receive("START")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, be.started)
}

func TestCloseWhileLoggingKeepsSession(t *testing.T) {
	be := &fakeBackend{}
	m, _ := newTestMachine(t, be)
	receive(t, m, "START")

	m.Close()
	assert.True(t, be.logging)
	assert.Zero(t, be.stopped)
}

func TestTransportFailureIsFatal(t *testing.T) {
	m, tr := newTestMachine(t, &fakeBackend{})
	tr.err = errors.New("broken pipe")

	assert.Error(t, m.Receive("ISLOGGING"))
}

func TestDeterminism(t *testing.T) {
	seq := []string{"START", "UPDATE", "BOARD 08 88", "STOP", "DOWNLOAD 7", "ACK", "FOO", "GETSESSIONS"}

	run := func() (string, []string) {
		be := &fakeBackend{blocks: map[int64][][]string{7: {{"a"}, {"b"}}}}
		m, tr := newTestMachine(t, be)
		receive(t, m, seq...)
		return m.State(), tr.sent
	}

	s1, sent1 := run()
	s2, sent2 := run()
	assert.Equal(t, s1, s2)
	assert.Equal(t, sent1, sent2)
}
