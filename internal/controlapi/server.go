// Package controlapi implements the Control API: a dual TCP/Unix-socket
// JSON-frame protocol server that dispatches root-key- or capability-token-
// authenticated requests to the closed action table of every other
// component (App Supervisor, Domain Manager, SSL Engine, Mail, Web/Service
// bookkeeping). One JSON request frame in, at most one JSON response frame
// plus optional newline-terminated progress frames out, then close.
package controlapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/odac-run/odac/internal/auth"
	"github.com/odac-run/odac/internal/logging"
)

const (
	tcpAddr        = ":1453"
	bindRetryDelay = time.Second
)

// Config configures the Unix socket path. Non-loopback TCP peers are
// admitted separately, through AllowPeer.
type Config struct {
	SocketPath string // e.g. "~/.odac/run/api.sock"
}

// Server is the Control API: it owns both listeners and the action table.
type Server struct {
	cfg  Config
	deps Deps
	log  *logging.Logger

	mu        sync.RWMutex
	allowed   map[string]bool // non-loopback IPs permitted to connect over TCP
	registry  map[string]ActionFunc

	tcpLn  net.Listener
	unixLn net.Listener
}

// New creates a Server. Call Start to begin listening.
func New(cfg Config, deps Deps, log *logging.Logger) *Server {
	return &Server{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		allowed:  make(map[string]bool),
		registry: buildRegistry(deps),
	}
}

// AllowPeer adds a non-loopback IP to the set of TCP peers the Control API
// will accept connections from, populated at container start for apps
// granted API capabilities.
func (s *Server) AllowPeer(ip string) {
	s.mu.Lock()
	s.allowed[ip] = true
	s.mu.Unlock()
}

// DisallowPeer removes a previously-allowed peer IP.
func (s *Server) DisallowPeer(ip string) {
	s.mu.Lock()
	delete(s.allowed, ip)
	s.mu.Unlock()
}

func (s *Server) isAllowed(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowed[ip.String()]
}

// Start binds both listeners and begins serving in background goroutines.
// It blocks only long enough to establish the Unix socket; the TCP
// listener is bound in the background, retried every bindRetryDelay until
// it succeeds or ctx is done, so a self-restarting process hands off
// cleanly.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.SocketPath != "" {
		_ = os.Remove(s.cfg.SocketPath)
		ln, err := net.Listen("unix", s.cfg.SocketPath)
		if err != nil {
			return fmt.Errorf("listen unix %s: %w", s.cfg.SocketPath, err)
		}
		if err := os.Chmod(s.cfg.SocketPath, 0o666); err != nil {
			return fmt.Errorf("chmod socket: %w", err)
		}
		s.unixLn = ln
		go s.serve(ctx, ln)
	}

	go s.bindTCPWithRetry(ctx)
	return nil
}

func (s *Server) bindTCPWithRetry(ctx context.Context) {
	for {
		ln, err := net.Listen("tcp", tcpAddr)
		if err == nil {
			s.mu.Lock()
			s.tcpLn = ln
			s.mu.Unlock()
			s.log.Info("control api listening", "addr", tcpAddr)
			s.serve(ctx, ln)
			return
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			s.log.Error("control api tcp bind failed", "error", err.Error())
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bindRetryDelay):
		}
	}
}

func (s *Server) serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("control api accept failed", "error", err.Error())
			return
		}
		go s.handleConn(ctx, c)
	}
}

// Stop closes both listeners.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpLn != nil {
		_ = s.tcpLn.Close()
	}
	if s.unixLn != nil {
		_ = s.unixLn.Close()
	}
	if s.cfg.SocketPath != "" {
		_ = os.Remove(s.cfg.SocketPath)
	}
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	defer raw.Close()

	if tcpConn, ok := raw.(*net.TCPConn); ok {
		addr, _ := tcpConn.RemoteAddr().(*net.TCPAddr)
		if addr != nil && !s.isAllowed(addr.IP) {
			s.log.Warn("control api rejected non-allowed peer", "peer", addr.IP.String())
			return
		}
	}

	c := newConn(raw)
	req, err := c.readRequest()
	if err != nil {
		_ = c.writeResponse(Response{ID: uuid.NewString(), Result: false, Message: errInvalidJSON})
		return
	}

	id := uuid.NewString()
	valid, isRoot := s.authenticate(req.Auth)
	if !valid {
		_ = c.writeResponse(Response{ID: id, Result: false, Message: errUnauthorized})
		return
	}

	handler, ok := s.registry[req.Action]
	if !ok {
		_ = c.writeResponse(Response{ID: id, Result: false, Message: errUnknownAction})
		return
	}
	if !isRoot && !auth.IsCapabilityAction(req.Action) {
		_ = c.writeResponse(Response{ID: id, Result: false, Message: errPermissionDenied})
		return
	}

	progress := func(process, status, message string) {
		_ = c.writeProgress(Progress{ID: id, Process: process, Status: status, Message: message})
	}

	message, err := handler(ctx, req.Data, progress)
	if err != nil {
		_ = c.writeResponse(Response{ID: id, Result: false, Message: err.Error()})
		return
	}
	_ = c.writeResponse(Response{ID: id, Result: true, Message: message})
}

// authenticate reports whether presented is a recognized credential
// (valid==true) and, if so, whether it is the root key itself (isRoot==true)
// as opposed to a derived capability token. The whitelist check for which
// actions a capability token may invoke happens separately, after the
// action is known to exist.
func (s *Server) authenticate(presented string) (valid, isRoot bool) {
	if s.deps.Store == nil || presented == "" {
		return false, false
	}
	rootKey := s.deps.Store.API().Get().Auth
	if rootKey != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(rootKey)) == 1 {
		return true, true
	}
	for _, app := range s.deps.Store.Apps().List() {
		if auth.VerifyCapabilityToken(rootKey, app.Name, presented) {
			return true, false
		}
	}
	return false, false
}
