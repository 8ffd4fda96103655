// internal/client/conn_test.go
package client

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers each expected request with a canned reply.
func scriptedServer(t *testing.T, script [][2]string) (string, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	done := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)

		for _, step := range script {
			_ = c.SetDeadline(time.Now().Add(2 * time.Second))
			line, err := r.ReadString('\n')
			if err != nil {
				done <- err
				return
			}
			if got := strings.TrimSpace(line); got != step[0] {
				done <- &unexpectedRequest{want: step[0], got: got}
				return
			}
			if _, err := c.Write([]byte(step[1] + "\n")); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return ln.Addr().String(), done
}

type unexpectedRequest struct{ want, got string }

func (e *unexpectedRequest) Error() string { return "want " + e.want + ", got " + e.got }

func TestConn_Download(t *testing.T) {
	addr, done := scriptedServer(t, [][2]string{
		{"ISLOGGING", "NACK"},
		{"DOWNLOAD 7", "f1\nf2\nACK"},
		{"ACK", "f3\nNACK"},
	})

	l := &recordingListener{}
	c, err := Dial(context.Background(), addr, l, nil, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return c.State() == "Idle" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send("DOWNLOAD 7"))
	require.Eventually(t, func() bool { return l.blockCount() == 2 && c.State() == "Idle" }, 2*time.Second, 5*time.Millisecond)

	l.mu.Lock()
	assert.Equal(t, [][]string{{"f1", "f2"}, {"f3"}}, l.blocks)
	l.mu.Unlock()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server script did not finish")
	}
}

func TestConn_ResumesLogging(t *testing.T) {
	addr, _ := scriptedServer(t, [][2]string{
		{"ISLOGGING", "ACK"},
	})

	c, err := Dial(context.Background(), addr, nil, nil, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Eventually(t, func() bool { return c.State() == "Logging" }, 2*time.Second, 5*time.Millisecond)
}

func TestConn_DoneOnServerClose(t *testing.T) {
	addr, _ := scriptedServer(t, [][2]string{
		{"ISLOGGING", "NACK"},
	})

	c, err := Dial(context.Background(), addr, nil, nil, Options{})
	require.NoError(t, err)

	select {
	case <-c.Done():
		assert.Error(t, c.Err())
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not end after server closed")
	}
}
