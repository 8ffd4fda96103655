// internal/netscanner/manager_test.go
package netscanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/datalogger/internal/board"
	"github.com/tamzrod/datalogger/internal/status"
)

// reading returns a read reply where channel i holds value i+1.
func reading() string {
	var sb strings.Builder
	for i := 0; i < board.ScannerChannels; i++ {
		fmt.Fprintf(&sb, "%04X", i+1)
	}
	return sb.String()
}

func TestFrames(t *testing.T) {
	frames, err := Frames(board.NetScannerID, 0x01F4, reading())
	require.NoError(t, err)
	require.Len(t, frames, 4)

	b := board.NetScanner(board.NetScannerID)
	got := map[string]float64{}
	for _, raw := range frames {
		f, err := b.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, uint8(frameType), f.Type)
		assert.Equal(t, uint16(0x01F4), f.Timestamp)
		for _, v := range b.Variables(f) {
			got[v.Name] = v.Value
		}
	}

	require.Len(t, got, board.ScannerChannels)
	for i := 0; i < board.ScannerChannels; i++ {
		assert.Equal(t, float64(i+1), got[board.ScannerVariable(i)])
	}
}

func TestFrames_BadReply(t *testing.T) {
	_, err := Frames(board.NetScannerID, 0, "00010002")
	assert.ErrorIs(t, err, ErrBadReply)

	_, err = Frames(board.NetScannerID, 0, strings.Repeat("Z", ReplyLen))
	assert.ErrorIs(t, err, ErrBadReply)
}

// fakeDevice answers init commands with "A" and read requests with a
// full reading, recording every command.
type fakeDevice struct {
	mu       sync.Mutex
	commands []string
	silent   bool
	split    bool // send readings in two writes
}

func (d *fakeDevice) serve(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 1024)
	for {
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		cmd := string(buf[:n])

		d.mu.Lock()
		d.commands = append(d.commands, cmd)
		silent := d.silent
		d.mu.Unlock()

		if silent {
			continue
		}
		reply := "A"
		if cmd == readCommand {
			reply = reading()
		}
		if cmd == readCommand && d.split {
			half := len(reply) / 2
			if _, err := c.Write([]byte(reply[:half])); err != nil {
				return
			}
			time.Sleep(2 * time.Millisecond)
			reply = reply[half:]
		}
		if _, err := c.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (d *fakeDevice) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *fakeDevice) reads() int {
	n := 0
	for _, c := range d.sent() {
		if c == readCommand {
			n++
		}
	}
	return n
}

type fakeSink struct {
	mu     sync.Mutex
	frames []string
}

func (s *fakeSink) Queue(frame string) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *fakeSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func startManager(t *testing.T, dev *fakeDevice, opts Options, sink FrameSink) (*Manager, <-chan error) {
	t.Helper()

	m := NewManager(opts, sink, nil, nil, nil)
	m.dial = func(context.Context) (net.Conn, error) {
		a, b := net.Pipe()
		go dev.serve(b)
		return a, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("scanner loop did not exit")
		}
	})
	return m, done
}

func TestRun_InitThenSample(t *testing.T) {
	dev := &fakeDevice{}
	sink := &fakeSink{}
	m, _ := startManager(t, dev, Options{BoardID: board.NetScannerID, SampleHz: 200, Timeout: time.Second, MaxRetries: 2}, sink)

	require.Eventually(t, func() bool { return len(dev.sent()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "v01101 6.894757", "h"}, dev.sent())

	// no sampling before a session
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, dev.reads())

	m.LoggingStarted(1, time.Now())
	require.Eventually(t, func() bool { return sink.count() >= 8 }, 2*time.Second, 5*time.Millisecond)

	m.LoggingStopped()
	n := dev.reads()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, dev.reads(), "no read request after stop")
	assert.Zero(t, sink.count()%4, "frames come in groups of four")
	assert.Equal(t, status.HealthOK, m.Status().Health)
}

func TestRun_SplitReading(t *testing.T) {
	dev := &fakeDevice{split: true}
	sink := &fakeSink{}
	m, _ := startManager(t, dev, Options{BoardID: board.NetScannerID, SampleHz: 100, Timeout: time.Second, MaxRetries: 2}, sink)

	require.Eventually(t, func() bool { return len(dev.sent()) == 4 }, time.Second, 5*time.Millisecond)
	m.LoggingStarted(1, time.Now())
	require.Eventually(t, func() bool { return sink.count() >= 12 }, 2*time.Second, 5*time.Millisecond)
	m.LoggingStopped()

	assert.Equal(t, 4*dev.reads(), sink.count(), "every read request yields one full reading")

	b := board.NetScanner(board.NetScannerID)
	for _, raw := range sink.all() {
		f, err := b.Decode(raw)
		require.NoError(t, err)
		for _, v := range b.Variables(f) {
			var ch int
			_, err := fmt.Sscanf(v.Name, "channel_%02d", &ch)
			require.NoError(t, err)
			assert.Equal(t, float64(ch+1), v.Value, v.Name)
		}
	}
}

func TestReadReading(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("A\r\n"))
	got, err := readReading(r)
	require.NoError(t, err)
	assert.Equal(t, "A", got)

	r = bufio.NewReader(strings.NewReader(reading() + "\r\n" + reading()))
	got, err = readReading(r)
	require.NoError(t, err)
	assert.Equal(t, reading(), got)
	got, err = readReading(r)
	require.NoError(t, err)
	assert.Equal(t, reading(), got)
}

// flakyConn fails the first writes with a transport error.
type flakyConn struct {
	net.Conn

	mu       sync.Mutex
	failures int
	attempts []time.Time
}

func (c *flakyConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.attempts = append(c.attempts, time.Now())
	fail := c.failures > 0
	if fail {
		c.failures--
	}
	c.mu.Unlock()

	if fail {
		return 0, errors.New("connection reset by peer")
	}
	return c.Conn.Write(p)
}

func (c *flakyConn) times() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.attempts...)
}

func TestRun_InitRetryBacksOff(t *testing.T) {
	dev := &fakeDevice{}
	fc := &flakyConn{failures: 3}

	m := NewManager(Options{BoardID: board.NetScannerID, SampleHz: 20, Timeout: time.Second, MaxRetries: 3}, nil, nil, nil, nil)
	m.dial = func(context.Context) (net.Conn, error) {
		a, b := net.Pipe()
		go dev.serve(b)
		fc.Conn = a
		return fc, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return len(dev.sent()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "A", dev.sent()[0], "failed step is retried, not skipped")

	// three failures, then the retried step succeeds at least two limiter periods later
	times := fc.times()
	require.GreaterOrEqual(t, len(times), 4)
	assert.GreaterOrEqual(t, times[3].Sub(times[0]), 90*time.Millisecond)
	assert.Equal(t, status.HealthOK, m.Status().Health)
}

func TestRun_TimeoutIsNoData(t *testing.T) {
	dev := &fakeDevice{silent: true}
	m, done := startManager(t, dev, Options{BoardID: board.NetScannerID, SampleHz: 200, Timeout: 5 * time.Millisecond, MaxRetries: 1}, nil)

	require.Eventually(t, func() bool { return len(dev.sent()) >= 4 }, time.Second, 5*time.Millisecond)
	m.LoggingStarted(1, time.Now())
	require.Eventually(t, func() bool { return dev.reads() >= 3 }, time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("loop ended on timeouts: %v", err)
	default:
	}
	m.LoggingStopped()
}

func TestRun_MaxRetries(t *testing.T) {
	m := NewManager(Options{BoardID: board.NetScannerID, Timeout: time.Second, MaxRetries: 2}, nil, nil, nil, nil)
	m.dial = func(context.Context) (net.Conn, error) {
		a, b := net.Pipe()
		b.Close()
		return a, nil
	}

	err := m.Run(context.Background())
	assert.True(t, errors.Is(err, ErrMaxRetries))
	assert.Equal(t, status.HealthStopped, m.Status().Health)

	// session signals after the loop ended do not block
	finished := make(chan struct{})
	go func() {
		m.LoggingStarted(1, time.Now())
		m.LoggingStopped()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("session signal blocked on a stopped loop")
	}
}

func TestRun_DialFailure(t *testing.T) {
	m := NewManager(Options{Address: "scanner:9000"}, nil, nil, nil, nil)
	m.dial = func(context.Context) (net.Conn, error) { return nil, errors.New("connection refused") }

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanner:9000")
	assert.Equal(t, status.HealthStopped, m.Status().Health)
}
