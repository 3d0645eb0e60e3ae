// Package ws is the WebSocket transport. It authenticates and upgrades HTTP
// connections, binds each one to a gateway session, reads client frames
// through epoll and a bounded worker pool, and writes outbound frames from a
// per-connection queue.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/huddle/chat-server/internal/gateway"
	"github.com/huddle/chat-server/internal/metrics"
	"github.com/huddle/chat-server/internal/ratelimit"
)

// maxFrameBytes bounds a single client message.
const maxFrameBytes = 64 << 10

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":3001"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	SendQueueSize  int           // outbound frames buffered per connection
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":3001",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades authenticated HTTP connections, registers them with an epoll
// instance for read readiness, and dispatches ready connections to a bounded
// worker pool for frame reading.
type Server struct {
	config     ServerConfig
	gw         *gateway.Gateway
	limiter    gateway.Limiter
	dispatcher *MessageDispatcher
	log        zerolog.Logger

	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{} // semaphore limiting concurrent read workers
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	running    atomic.Bool
	stopOnce   sync.Once
	startedAt  time.Time
}

// NewServer creates a Server that binds connections to sessions of gw.
// limiter may be nil, which disables per-IP connect throttling.
func NewServer(config ServerConfig, gw *gateway.Gateway, limiter gateway.Limiter, log zerolog.Logger) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		gw:         gw,
		limiter:    limiter,
		log:        log.With().Str("component", "ws").Logger(),
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.dispatcher = NewMessageDispatcher(gw, s.log)
	return s
}

// Run creates the epoll instance and starts the event loop and heartbeat in
// the background. It must be called before the upgrade handler serves any
// request.
func (s *Server) Run() error {
	if s.running.Load() {
		return nil
	}
	ep, err := NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.epoll = ep
	s.startedAt = time.Now()
	s.running.Store(true)

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)
	return nil
}

// Start runs the server and blocks serving handler on ListenAddr. handler is
// expected to route the WebSocket path to HandleUpgrade.
func (s *Server) Start(handler http.Handler) error {
	if err := s.Run(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().
		Str("addr", s.config.ListenAddr).
		Int("workers", s.config.WorkerPoolSize).
		Int("max_conns", s.config.MaxConnections).
		Msg("server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// HandleUpgrade authenticates the request, upgrades it to a WebSocket and
// joins a gateway session for it. Authentication happens before the
// upgrade, so a rejected client gets a plain 401 and no state changes.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), ip, ratelimit.RuleConnect)
		if err != nil {
			s.log.Debug().Err(err).Str("ip", ip).Msg("connect limiter unavailable")
		}
		if !allowed {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	id, err := s.gw.Authenticate(r.Context(), tokenFromRequest(r))
	if err != nil {
		metrics.AuthFailures.WithLabelValues("ws").Inc()
		s.log.Info().Err(err).Str("ip", ip).Msg("websocket auth rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Str("ip", ip).Msg("upgrade failed")
		return
	}

	c := newConnection(uuid.NewString(), id.Username(), conn, s.config.SendQueueSize, s.config.WriteTimeout)
	c.server = s
	s.conns.Add(c)
	go c.writeLoop()

	// Join before the connection is readable so every request finds a
	// session.
	sess := s.gw.Join(id, c)
	c.session.Store(sess)
	if s.conns.Get(c.ID) == nil {
		// Removed while joining; nobody else will end the session.
		s.gw.Leave(sess)
		return
	}

	if err := s.epoll.Add(conn); err != nil {
		s.log.Error().Err(err).Str("conn", c.ID).Msg("epoll add failed")
		s.RemoveConnection(c)
		return
	}

	count := s.conns.Count()
	metrics.ConnectionsTotal.Set(float64(count))
	s.log.Info().
		Str("conn", c.ID).
		Str("user", c.Username).
		Int("fd", c.Fd).
		Int("total", count).
		Msg("new connection")
}

// HandleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. Each ready connection is handed
// to a worker goroutine bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				s.log.Error().Err(err).Msg("epoll wait error")
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
				s.epoll.Rearm(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection. If the
// read fails the connection is removed.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Level-triggered epoll may report the same connection twice.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(s.epoll.Reader(netConn), ws.StateServerSide)
	if err != nil {
		// A timeout means the dispatch was stale; the heartbeat handles
		// connections that are actually dead.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})
	c.touch()

	if header.OpCode.IsControl() {
		s.handleControl(c, header, reader)
		return
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxFrameBytes+1))
	if err != nil || len(data) > maxFrameBytes {
		s.log.Info().Err(err).Str("conn", c.ID).Msg("dropping connection on bad frame")
		s.RemoveConnection(c)
		return
	}
	if len(data) == 0 || header.OpCode != ws.OpText && header.OpCode != ws.OpContinuation {
		return
	}

	s.dispatcher.Dispatch(s.ctx, c, data)
}

func (s *Server) handleControl(c *Connection, header ws.Header, reader io.Reader) {
	switch header.OpCode {
	case ws.OpClose:
		s.RemoveConnection(c)
	case ws.OpPing:
		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			s.RemoveConnection(c)
			return
		}
		if err := c.writeControl(ws.NewPongFrame(payload)); err != nil {
			s.RemoveConnection(c)
		}
	default:
		// Pong: the frame was already counted as activity.
		_, _ = io.Copy(io.Discard, reader)
	}
}

// RemoveConnection removes a connection from epoll and the connection
// manager, closes it, and ends its gateway session. It is safe to call more
// than once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	c.Close()

	if sess := c.session.Load(); sess != nil {
		s.gw.Leave(sess)
	}

	count := s.conns.Count()
	metrics.ConnectionsTotal.Set(float64(count))
	s.log.Info().Str("conn", c.ID).Str("user", c.Username).Int("total", count).Msg("connection closed")
}

// Connections returns the ConnectionManager for the heartbeat and tests.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener and the event loop, closes every active
// connection and releases the epoll instance.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")

	var httpErr error
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				httpErr = fmt.Errorf("ws: http shutdown: %w", err)
			}
		}

		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}

		if s.epoll != nil {
			_ = s.epoll.Close()
		}
	})

	s.log.Info().Msg("server stopped")
	return httpErr
}

// tokenFromRequest reads the identity token from the token query parameter
// or a Bearer authorization header.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
