// cmd/loggerctl/session.go
package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tamzrod/datalogger/internal/client"
	"github.com/tamzrod/datalogger/internal/wire"
)

// events forwards client notifications to channels on top of the recorder.
// Sends never block: the client calls in with its machine locked.
type events struct {
	*client.Recorder

	states   chan string
	lists    chan []wire.SessionInfo
	boardIDs chan []string
	errs     chan string
	finished chan struct{}
	cache    chan string
}

func newEvents(r *client.Recorder) *events {
	return &events{
		Recorder: r,
		states:   make(chan string, 16),
		lists:    make(chan []wire.SessionInfo, 1),
		boardIDs: make(chan []string, 1),
		errs:     make(chan string, 4),
		finished: make(chan struct{}, 4),
		cache:    make(chan string, 64),
	}
}

func (e *events) StateChanged(s string) { offer(e.states, s) }
func (e *events) Boards(ids []string)   { offer(e.boardIDs, ids) }

func (e *events) ProcessFinished() {
	e.Recorder.ProcessFinished()
	offer(e.finished, struct{}{})
}

func (e *events) SessionList(list []wire.SessionInfo) {
	e.Recorder.SessionList(list)
	offer(e.lists, list)
}

func (e *events) LoggerError(msg string) {
	e.Recorder.LoggerError(msg)
	offer(e.errs, msg)
}

func (e *events) CacheLine(line string) {
	e.Recorder.CacheLine(line)
	offer(e.cache, line)
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// ---- commands ----

type session struct {
	c       *client.Conn
	ev      *events
	timeout time.Duration
	ctx     context.Context
}

// waitState waits until the client is in one of the named states.
func (s *session) waitState(names ...string) (string, error) {
	deadline := time.After(s.timeout)
	for {
		cur := s.c.State()
		for _, n := range names {
			if cur == n {
				return cur, nil
			}
		}

		select {
		case <-s.ev.states:
		case <-s.c.Done():
			return "", fmt.Errorf("connection closed: %w", s.c.Err())
		case <-deadline:
			return "", fmt.Errorf("timed out in %s waiting for %s", cur, strings.Join(names, " or "))
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
}

// settle waits for the client to return to Idle.
func (s *session) settle() error {
	_, err := s.waitState("Idle")
	return err
}

func (s *session) start() error {
	if s.c.State() == "Logging" {
		fmt.Println("already logging")
		return nil
	}
	if err := s.c.Send(wire.Start); err != nil {
		return err
	}
	state, err := s.waitState("Logging", "Idle")
	if err != nil {
		return err
	}
	if state == "Idle" {
		return s.loggerError("start refused")
	}
	fmt.Println("logging")
	return nil
}

func (s *session) stop() error {
	if s.c.State() != "Logging" {
		return errors.New("not logging")
	}
	if err := s.c.Send(wire.Stop); err != nil {
		return err
	}
	if err := s.settle(); err != nil {
		return err
	}
	s.printSessions()
	return nil
}

func (s *session) sessions() error {
	if err := s.c.Send(wire.GetSessions); err != nil {
		return err
	}
	if _, err := s.waitState("SessionList"); err != nil {
		return err
	}
	if err := s.settle(); err != nil {
		return err
	}
	s.printSessions()
	return nil
}

func (s *session) printSessions() {
	select {
	case list := <-s.ev.lists:
		if len(list) == 0 {
			fmt.Println("no sessions")
		}
		for _, si := range list {
			stopped := "running"
			if !si.Stopped.IsZero() {
				stopped = si.Stopped.Local().Format(time.DateTime)
			}
			fmt.Printf("%4d  %s  %s  %d frames\n", si.ID, si.Started.Local().Format(time.DateTime), stopped, si.Readings)
		}
	default:
		fmt.Println("no session list received")
	}
}

func (s *session) download(arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("session id %q: %w", arg, err)
	}
	if s.c.State() != "Idle" {
		return errors.New("stop logging before downloading")
	}

	// session start times anchor the frame timestamps
	if err := s.sessions(); err != nil {
		return err
	}

	s.drain()
	if err := s.c.Send(wire.Compose(wire.Download, arg)); err != nil {
		return err
	}
	if _, err := s.waitState("Downloading", "Idle"); err != nil {
		return err
	}
	if err := s.settle(); err != nil {
		return err
	}

	select {
	case msg := <-s.ev.errs:
		return fmt.Errorf("download failed: %s", msg)
	default:
	}
	fmt.Printf("session %d downloaded\n", id)
	return nil
}

func (s *session) board(args []string) error {
	s.drain()
	if err := s.c.Send(wire.Compose(wire.Board, args...)); err != nil {
		return err
	}
	if s.c.State() == "Logging" {
		fmt.Println("sent")
		return nil
	}
	return s.reply()
}

func (s *session) boards() error {
	s.drain()
	if err := s.c.Send(wire.Boards); err != nil {
		return err
	}
	select {
	case ids := <-s.ev.boardIDs:
		if len(ids) == 0 {
			fmt.Println("no boards")
			return nil
		}
		fmt.Println(strings.Join(ids, " "))
		return nil
	case msg := <-s.ev.errs:
		return errors.New(msg)
	case <-time.After(s.timeout):
		return errors.New("timed out waiting for board list")
	}
}

func (s *session) reset() error {
	s.drain()
	if err := s.c.Send(wire.Reset); err != nil {
		return err
	}
	return s.reply()
}

// reply waits for an ACK or an error from the logger.
func (s *session) reply() error {
	select {
	case <-s.ev.finished:
		fmt.Println("ok")
		return nil
	case msg := <-s.ev.errs:
		return errors.New(msg)
	case <-time.After(s.timeout):
		return errors.New("timed out waiting for reply")
	}
}

// drain drops replies left over from earlier exchanges.
func (s *session) drain() {
	for {
		select {
		case <-s.ev.finished:
		case <-s.ev.errs:
		case <-s.ev.boardIDs:
		default:
			return
		}
	}
}

func (s *session) loggerError(what string) error {
	select {
	case msg := <-s.ev.errs:
		return fmt.Errorf("%s: %s", what, msg)
	default:
		return errors.New(what)
	}
}

func (s *session) watch() error {
	if s.c.State() != "Logging" {
		return errors.New("not logging")
	}
	for {
		select {
		case line := <-s.ev.cache:
			fmt.Println(line)
		case st := <-s.ev.states:
			if st != "Logging" {
				return fmt.Errorf("logging ended (%s)", st)
			}
		case <-s.c.Done():
			return s.c.Err()
		case <-s.ctx.Done():
			return nil
		}
	}
}
