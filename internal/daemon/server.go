// Package daemon implements the session server: a Unix-socket listener that
// decodes framed requests, serializes access to the shared synthesis engine,
// and dispatches to the request handlers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/hibiki-dev/hibikid/internal/config"
	"github.com/hibiki-dev/hibikid/internal/engine"
	"github.com/hibiki-dev/hibikid/internal/events"
	"github.com/hibiki-dev/hibikid/internal/history"
	"github.com/hibiki-dev/hibikid/internal/protocol"
	"github.com/hibiki-dev/hibikid/internal/voicebank"
)

// Server serves framed requests over a local socket. The engine handle and
// the load/unload state behind it are guarded by a single gate: a connection
// handling a synthesis request holds the gate for the whole
// load-synthesize-unload span, so engine operations never interleave.
type Server struct {
	cfg        config.Config
	log        *slog.Logger
	eng        engine.Engine
	registry   *voicebank.Registry
	models     []voicebank.Model
	modelPaths map[uint32]string
	speakers   []engine.Speaker
	hist       *history.Store
	pub        *events.Publisher
	metrics    *serverMetrics

	gate sync.Mutex

	socketPath string
	ln         net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New assembles a server around an already-built voicebank. The models slice
// and speaker directory are treated as immutable snapshots from here on.
func New(cfg config.Config, eng engine.Engine, registry *voicebank.Registry, models []voicebank.Model, speakers []engine.Speaker, hist *history.Store, pub *events.Publisher, log *slog.Logger) (*Server, error) {
	metrics, err := newServerMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	paths := make(map[uint32]string, len(models))
	for _, m := range models {
		paths[m.ID] = m.Path
	}
	return &Server{
		cfg:        cfg,
		log:        log.With(slog.String("component", "daemon")),
		eng:        eng,
		registry:   registry,
		models:     models,
		modelPaths: paths,
		speakers:   speakers,
		hist:       hist,
		pub:        pub,
		metrics:    metrics,
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// SocketPath reports the path the server is (or will be) bound to.
func (s *Server) SocketPath() string {
	if s.socketPath != "" {
		return s.socketPath
	}
	return ResolveSocketPath(s.cfg.Daemon.SocketPath)
}

// Start binds the socket and begins accepting connections. A live daemon
// already answering on the path is a fatal startup conflict; a dead socket
// file is removed as stale.
func (s *Server) Start(ctx context.Context) error {
	path := ResolveSocketPath(s.cfg.Daemon.SocketPath)

	if _, err := os.Stat(path); err == nil {
		if pid, alive := probePeer(path); alive {
			if pid > 0 {
				return fmt.Errorf("another daemon (pid %d) is already serving on %s", pid, path)
			}
			return fmt.Errorf("another daemon is already serving on %s", path)
		}
		s.log.Warn("removing stale socket file", slog.String("path", path))
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create socket dir: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("bind socket %s: %w", path, err)
	}

	s.socketPath = path
	s.ln = ln
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("daemon listening", slog.String("socket", path))
	return nil
}

// Close stops accepting, closes open connections, waits for their handlers,
// and removes the socket file. Open connections must be closed here: an idle
// client parks its handler in a frame read that context cancellation alone
// never interrupts.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	if s.socketPath != "" {
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove socket file", slog.String("error", err.Error()))
		}
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}
		// Register under the lock and re-check shutdown inside it, so a
		// conn accepted during Close is seen either by Close's sweep or
		// by this check, never by neither.
		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		closing := s.ctx.Err() != nil
		if closing {
			delete(s.conns, conn)
		}
		s.connMu.Unlock()
		if closing {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs one connection's request loop. Requests are processed
// strictly in arrival order with a single request in flight at a time; the
// loop ends on EOF or any frame-level error.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	s.metrics.connOpened(s.ctx)
	defer s.metrics.connClosed(s.ctx)

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Warn("frame read failed", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := protocol.ParseRequest(payload)
		if err != nil {
			// Best-effort error response, then drop the connection:
			// after an undecodable frame the stream cannot be trusted.
			s.log.Warn("undecodable request", slog.String("error", err.Error()))
			_ = protocol.WriteMessage(conn, protocol.NewError(fmt.Sprintf("bad request: %v", err)))
			return
		}

		resp := s.dispatch(s.ctx, msg)
		if err := protocol.WriteMessage(conn, resp); err != nil {
			s.log.Warn("frame write failed", slog.String("error", err.Error()))
			return
		}
	}
}

// dispatch routes one decoded request. Ping and the metadata queries read
// only immutable startup snapshots, so they skip the engine gate entirely
// and can never observe a partially loaded model.
func (s *Server) dispatch(ctx context.Context, msg any) any {
	switch req := msg.(type) {
	case protocol.PingRequest:
		s.metrics.request(ctx, "ping", "ok")
		return protocol.NewPong()
	case protocol.ListSpeakersRequest:
		s.metrics.request(ctx, "list_speakers", "ok")
		return protocol.NewSpeakers(s.speakers, s.registry.StyleMap())
	case protocol.ListModelsRequest:
		s.metrics.request(ctx, "list_models", "ok")
		return protocol.NewModels(s.models)
	case protocol.SynthesizeRequest:
		return s.handleSynthesize(ctx, req)
	default:
		s.metrics.request(ctx, "unknown", "error")
		return protocol.NewError(fmt.Sprintf("unsupported request %T", msg))
	}
}
