// internal/server/server.go
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tamzrod/datalogger/internal/metrics"
	"github.com/tamzrod/datalogger/internal/wire"
)

// Server accepts client connections and runs one Machine per connection.
type Server struct {
	be      Backend
	log     *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	conns map[string]*wire.Conn
	wg    sync.WaitGroup
}

func New(be Backend, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		be:      be,
		log:     logger,
		metrics: m,
		conns:   make(map[string]*wire.Conn),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then closes every
// connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.closeAll()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept", zap.Error(err))
				continue
			}
			s.wg.Wait()
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(c)
		}()
	}
}

func (s *Server) handle(c net.Conn) {
	id := uuid.NewString()
	log := s.log.With(zap.String("conn", id), zap.String("remote", c.RemoteAddr().String()))

	wc := wire.NewConn(c)
	s.mu.Lock()
	s.conns[id] = wc
	s.mu.Unlock()
	s.metrics.Connected(1)

	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		s.metrics.Connected(-1)
		wc.Close()
	}()

	log.Info("client connected")

	m, err := NewMachine(wc, s.be, log, s.metrics)
	if err != nil {
		log.Warn("connection setup failed", zap.Error(err))
		return
	}
	defer m.Close()

	for {
		line, err := wc.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn("read", zap.Error(err))
			}
			log.Info("client disconnected", zap.String("state", m.State()))
			return
		}
		log.Debug("<-", zap.String("msg", line))

		if err := m.Receive(line); err != nil {
			log.Warn("connection dropped", zap.String("msg", line), zap.Error(err))
			return
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}
