// Package daemon implements the Protocol Server (spec.md §4.H): the
// accept loop, bounded worker pool, per-request-type timeouts, the
// embedding encode queue, and the single-instance lock, grounded on the
// teacher's internal/daemon/server.go (structure, lifecycle, logging) with
// its gRPC transport replaced by internal/protocol's JSON frame codec
// (see DESIGN.md's wire protocol decision).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cmdsense/suggestd/internal/ann"
	"github.com/cmdsense/suggestd/internal/config"
	"github.com/cmdsense/suggestd/internal/embed"
	"github.com/cmdsense/suggestd/internal/privacy"
	"github.com/cmdsense/suggestd/internal/protocol"
	"github.com/cmdsense/suggestd/internal/store"
	"github.com/cmdsense/suggestd/internal/suggest"
)

// Per-request-type handler timeouts, per spec.md §4.H.
const (
	timeoutSuggest     = 5 * time.Second
	timeoutMaintenance = 30 * time.Second
	timeoutLog         = 1 * time.Second
	timeoutDefault     = 5 * time.Second
)

// shutdownTimeout bounds how long Shutdown waits for in-flight requests to
// drain before forcing the listener and lock closed.
const shutdownTimeout = 30 * time.Second

// ErrAlreadyRunning is returned by Start when another instance already
// holds daemon.lock, per spec.md §5 and §7's AlreadyRunning error kind.
var ErrAlreadyRunning = errors.New("daemon: already running")

// Config wires every dependency the Server needs. Store and Engine are
// required; the rest may be nil (Embed/ANN nil means tier 2 runs
// permanently degraded, mirroring suggest.Engine's own nil-tolerant
// design).
type Config struct {
	Store    *store.Store
	EmbedMgr *embed.Manager
	ANN      *ann.Index
	Engine   *suggest.Engine
	Privacy  *privacy.Filter
	Paths    *config.Paths
	Cfg      *config.Config
	Logger   *slog.Logger

	// Framing selects the wire framing; defaults to protocol.LengthPrefixed.
	Framing protocol.Framing
	// Workers bounds the request worker pool; defaults to max(2, NumCPU).
	Workers int
	// QueueCapacity bounds the embedding encode queue; defaults to 4096.
	QueueCapacity int
	// DiagnosticsAddr, if non-empty, opens a loopback-only /healthz and
	// /debug/vars HTTP surface (SPEC_FULL.md §4). Empty disables it.
	DiagnosticsAddr string
}

// Server owns the Unix socket listener, the bounded worker pool handling
// client connections, the single-instance lock, and the embedding encode
// queue's draining goroutine. The Scheduler (spec.md §4.I) is a separate,
// independently started task that shares these dependencies; Server does
// not invoke E.build or D.merge itself.
type Server struct {
	store    *store.Store
	embedMgr *embed.Manager
	annIdx   *ann.Index
	engine   *suggest.Engine
	privacyF *privacy.Filter
	paths    *config.Paths
	cfg      *config.Config
	logger   *slog.Logger

	framing         protocol.Framing
	workers         int
	queue           *EncodeQueue
	lock            *LockFile
	diagnosticsAddr string

	listener net.Listener
	sem      chan struct{}

	diagListener   net.Listener
	diagHTTPServer *http.Server

	startTime time.Time
	mu        sync.Mutex
	commandsLogged    int64
	suggestionsServed int64

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New validates cfg and constructs a Server. The socket is not opened nor
// the lock acquired until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("daemon: Store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("daemon: Engine is required")
	}
	if cfg.Paths == nil {
		cfg.Paths = config.DefaultPaths()
	}
	if cfg.Cfg == nil {
		cfg.Cfg = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = max(2, runtime.NumCPU())
	}

	return &Server{
		store:           cfg.Store,
		embedMgr:        cfg.EmbedMgr,
		annIdx:          cfg.ANN,
		engine:          cfg.Engine,
		privacyF:        cfg.Privacy,
		paths:           cfg.Paths,
		cfg:             cfg.Cfg,
		logger:          cfg.Logger,
		framing:         cfg.Framing,
		workers:         workers,
		queue:           NewEncodeQueue(cfg.QueueCapacity, cfg.Logger),
		lock:            NewLockFile(cfg.Paths.DaemonLock()),
		diagnosticsAddr: cfg.DiagnosticsAddr,
		sem:             make(chan struct{}, workers),
		startTime:       time.Now(),
		shutdownChan:    make(chan struct{}),
	}, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Start acquires the single-instance lock, opens the Unix socket listener
// (permission 0600, per spec.md §6.2), and begins accepting connections
// and draining the embedding encode queue. It returns once the listener is
// up; callers run it alongside a signal handler that calls Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("daemon: create data directory: %w", err)
	}

	if err := s.lock.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
	}

	socketPath := s.paths.SocketPath()
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove stale socket", "path", socketPath, "error", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		_ = s.lock.Release()
		return fmt.Errorf("daemon: listen on socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		listener.Close()
		_ = s.lock.Release()
		return fmt.Errorf("daemon: chmod socket: %w", err)
	}
	s.listener = listener

	s.logger.Info("daemon starting",
		"socket", socketPath,
		"pid", os.Getpid(),
		"workers", s.workers,
	)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.wg.Add(1)
	go s.encodeLoop(ctx)

	s.startDiagnostics(s.diagnosticsAddr)

	return nil
}

// Shutdown stops accepting new connections, waits up to drainTimeout for
// in-flight work to finish, releases the socket and lock, per spec.md
// §4.I's shutdown-flush job (the scheduler performs the actual flush of
// D/E/statistics; Shutdown only tears down the transport and lock).
func (s *Server) Shutdown(drainTimeout time.Duration) {
	s.shutdownOnce.Do(func() {
		s.logger.Info("daemon shutting down")
		close(s.shutdownChan)

		s.stopDiagnostics()

		if s.listener != nil {
			s.listener.Close()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			s.logger.Warn("shutdown drain timed out", "timeout", drainTimeout)
		}

		if err := s.lock.Release(); err != nil {
			s.logger.Warn("failed to release daemon lock", "error", err)
		}
		s.logger.Info("daemon stopped")
	})
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdownChan:
				return
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("accept error", "error", err)
				return
			}
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.shutdownChan:
			conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn serves one connection to completion, per spec.md §4.H's
// "processing is single-threaded per connection" and §5's in-order
// response guarantee.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := protocol.NewReader(conn, s.framing)
	writer := protocol.NewWriter(conn, s.framing)

	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("closing connection on malformed frame", "error", err)
			}
			return
		}

		resp := s.dispatch(ctx, frame)
		if err := writer.WriteFrame(resp); err != nil {
			s.logger.Debug("write response failed", "error", err)
			return
		}
	}
}
