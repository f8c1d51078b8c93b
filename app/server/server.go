package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mlkmahmud/respkv/app/metrics"
	"github.com/mlkmahmud/respkv/app/resp"
)

const (
	DefaultAddress = "0.0.0.0:6379"

	readChunkSize       = 4096
	acceptRetryInterval = 10 * time.Millisecond
)

type Server struct {
	address         string
	dispatcher      *Dispatcher
	logger          *slog.Logger
	metrics         *metrics.Metrics
	shutdownTimeout time.Duration

	listener net.Listener
	stopping atomic.Bool
	stopOnce sync.Once

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

type ServerOpts struct {
	// Address to listen on. Defaults to DefaultAddress.
	Address string
	Config  *Config
	// Defaults to an empty in-memory cache.
	Store   Store
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// How long Shutdown waits for connections to drain before closing them.
	ShutdownTimeout time.Duration
}

func NewServer(opts ServerOpts) *Server {
	address := opts.Address

	if address == "" {
		address = DefaultAddress
	}

	logger := opts.Logger

	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		address: address,
		dispatcher: NewDispatcher(DispatcherOpts{
			Store:   opts.Store,
			Config:  opts.Config,
			Logger:  logger,
			Metrics: opts.Metrics,
		}),
		logger:          logger,
		metrics:         opts.Metrics,
		shutdownTimeout: opts.ShutdownTimeout,
		conns:           map[net.Conn]struct{}{},
	}
}

// Start listens and serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(ctx)
}

// Listen binds the server address. Go listeners enable SO_REUSEADDR.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)

	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", s.address, err)
	}

	s.listener = listener
	s.logger.Info("listening", "address", listener.Addr().String())

	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("server listener has not been initialized")
	}

	go s.acceptConnections()

	<-ctx.Done()

	shutdownCtx := context.Background()

	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.shutdownTimeout)
		defer cancel()
	}

	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections, interrupts idle reads and waits for
// connection handlers to finish. Connections still open when ctx expires
// are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error

	s.stopOnce.Do(func() {
		s.stopping.Store(true)

		if s.listener != nil {
			err = s.listener.Close()
		}

		s.mu.Lock()
		for conn := range s.conns {
			// Unblocks a pending Read; a reply being written still completes.
			_ = conn.SetReadDeadline(time.Now())
		}
		s.mu.Unlock()
	})

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		<-done
	}

	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	return err
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()

		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.logger.Error("failed to accept connection", "error", err)
			time.Sleep(acceptRetryInterval)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}

		go s.handleIncomingConnection(conn)
	}
}

// track registers conn with the server; it refuses once shutdown has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping.Load() {
		return false
	}

	s.conns[conn] = struct{}{}
	s.wg.Add(1)

	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	s.wg.Done()
}

func (s *Server) handleIncomingConnection(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With("conn", ulid.Make().String(), "remote", conn.RemoteAddr().String())

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	logger.Debug("client connected")

	buffer := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	scanner := &resp.Scanner{}

	for {
		n, readErr := conn.Read(chunk)

		if n > 0 {
			buffer = append(buffer, chunk[:n]...)

			consumed, err := s.processBuffer(conn, buffer, scanner)
			buffer = buffer[:copy(buffer, buffer[consumed:])]

			if err != nil {
				s.connectionFailed(logger, err)
				return
			}
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			logger.Debug("client closed the connection")
			return
		}

		if s.stopping.Load() {
			logger.Debug("closing connection for shutdown")
			return
		}

		s.connectionFailed(logger, readErr)
		return
	}
}

// processBuffer executes every complete request in buf and returns the
// number of bytes consumed. A trailing partial frame is left for the next
// read; scanner keeps its progress so the frame is not walked again.
func (s *Server) processBuffer(w io.Writer, buf []byte, scanner *resp.Scanner) (int, error) {
	cursor := 0

	for cursor < len(buf) {
		size, err := scanner.Scan(buf[cursor:])

		if errors.Is(err, resp.ErrIncomplete) {
			return cursor, nil
		}

		if err != nil {
			return cursor, err
		}

		frame := buf[cursor : cursor+size]
		request, err := resp.Decode(frame, new(int))

		if err != nil {
			return cursor, err
		}

		cursor += size

		if err := s.dispatcher.Execute(w, request); err != nil {
			return cursor, err
		}
	}

	return cursor, nil
}

func (s *Server) connectionFailed(logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, resp.ErrProtocol):
		s.metrics.ConnectionFailed("protocol")
		logger.Warn("closing connection after protocol error", "error", err)

	case errors.Is(err, ErrArgument):
		s.metrics.ConnectionFailed("argument")
		logger.Warn("closing connection after invalid command", "error", err)

	default:
		s.metrics.ConnectionFailed("socket")
		logger.Error("connection failed", "error", err)
	}
}
