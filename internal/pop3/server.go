// Package pop3 implements the POP3 Session (spec §4.8) as a hand-rolled
// command loop over stdlib net/bufio, grounded on infodancer-pop3d's
// internal/pop3/{handler,transaction_commands}.go: an AUTHORIZATION ->
// TRANSACTION -> UPDATE state machine operating on a frozen snapshot of
// INBOX taken at PASS success, with deletion committed only in the QUIT
// handler. infodancer's own auth/msgstore/session-manager packages are
// not imported — this repo's internal/auth and internal/store replace
// them.
package pop3

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oonrumail/mailcore/internal/auth"
	"github.com/oonrumail/mailcore/internal/domain"
	"github.com/oonrumail/mailcore/internal/store"
	"github.com/oonrumail/mailcore/internal/telemetry"
)

// Config bundles the POP3 listener's address and limits (spec §6).
type Config struct {
	Hostname       string
	Addr           string
	IdleTimeout    time.Duration
	MaxConnections int
	TLSConfig      *tls.Config
}

// Server is the multi-domain POP3 server, sharing the single injected
// store.Store the same way internal/imap does.
type Server struct {
	cfg     Config
	store   store.Store
	domains *domain.Cache
	auth    *auth.Authenticator
	metrics *telemetry.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	sessions map[*Session]struct{}
	activeN  int
}

func NewServer(cfg Config, st store.Store, domains *domain.Cache, authn *auth.Authenticator, metrics *telemetry.Metrics, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		domains:  domains,
		auth:     authn,
		metrics:  metrics,
		logger:   logger,
		sessions: map[*Session]struct{}{},
	}
}

func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("pop3 server already running")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen pop3: %w", err)
	}
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	go s.acceptLoop(ln)
	s.logger.Info("pop3 listener started", zap.String("addr", s.cfg.Addr))
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stillRunning := s.running
			s.mu.Unlock()
			if !stillRunning {
				return
			}
			s.logger.Warn("pop3 accept error", zap.Error(err))
			continue
		}

		s.mu.Lock()
		if s.cfg.MaxConnections > 0 && s.activeN >= s.cfg.MaxConnections {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.activeN++
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

// handleConn recovers from any panic inside a session so one connection's
// bug cannot take down the listener or its sibling sessions.
func (s *Server) handleConn(conn net.Conn) {
	sess := newSession(s, conn)

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	s.metrics.ConnectionsTotal.WithLabelValues("pop3").Inc()
	s.metrics.ConnectionsActive.WithLabelValues("pop3").Inc()
	start := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("pop3 session panicked", zap.Any("panic", r))
				conn.Close()
			}
		}()
		sess.Handle()
	}()

	s.metrics.ConnectionsActive.WithLabelValues("pop3").Dec()
	s.metrics.SessionDuration.WithLabelValues("pop3").Observe(time.Since(start).Seconds())

	s.mu.Lock()
	delete(s.sessions, sess)
	s.activeN--
	s.mu.Unlock()
}

// Stop closes the listener and every active connection after flushing a
// "-ERR Server shutting down" line (spec §5).
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.listener
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var firstErr error
	if ln != nil {
		if err := ln.Close(); err != nil {
			firstErr = err
		}
	}

	for _, sess := range sessions {
		sess.sendLine("-ERR Server shutting down")
		sess.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		for {
			s.mu.Lock()
			n := len(s.sessions)
			s.mu.Unlock()
			if n == 0 {
				close(done)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
	}
	return firstErr
}

func newConnectionID() string {
	return uuid.NewString()
}
