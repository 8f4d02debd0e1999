package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentping/relay/internal/origin"
)

// TokenHeader carries the relay token for clients that cannot set a bearer
// header.
const TokenHeader = "X-Agentping-Token"

type Server struct {
	hub       *Hub
	validator *origin.Validator
	authToken string
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func NewServer(hub *Hub, validator *origin.Validator, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:       hub,
		validator: validator,
		authToken: authToken,
		logger:    logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("POST /api/sessions/{id}/command", s.handleCommand)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// admit runs the network-layer checks shared by every route.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	if s.validator != nil {
		if err := s.validator.Check(r.RemoteAddr); err != nil {
			s.logger.Warn("rejected request", "remote", r.RemoteAddr, "err", err)
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
	}
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	preAuthorized := s.authorize(r)

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	hello, err := s.readHello(wsConn)
	if err == nil && !preAuthorized && !s.tokenMatches(hello.Token) {
		err = ErrUnauthorized
	}
	if err != nil {
		s.refuse(wsConn, r.RemoteAddr, err)
		return
	}

	c := newConn(s.hub, wsConn, hello, r.RemoteAddr)
	if err := s.hub.register(c); err != nil {
		s.refuse(wsConn, r.RemoteAddr, err)
		return
	}
	c.logger.Info("connected", "transient", c.transient)

	c.reply(Welcome{
		Type:              MsgWelcome,
		ConnectionID:      c.id,
		Role:              c.role,
		HeartbeatInterval: s.hub.opts.HeartbeatInterval.String(),
	})
	if c.role == RoleViewer {
		c.reply(s.hub.snapshotFor(c))
	}

	go c.writePump()
	if c.role == RoleViewer {
		go c.commandLoop()
	}
	c.readPump()
}

// readHello waits for the handshake frame.
func (s *Server) readHello(wsConn *websocket.Conn) (Envelope, error) {
	wsConn.SetReadDeadline(time.Now().Add(s.hub.opts.HandshakeTimeout))
	_, data, err := wsConn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			return Envelope{}, ErrHandshakeTimeout
		}
		return Envelope{}, err
	}

	var hello Envelope
	if err := json.Unmarshal(data, &hello); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if hello.Type != MsgHello {
		return Envelope{}, fmt.Errorf("%w: expected hello, got %q", ErrMalformedMessage, hello.Type)
	}
	switch hello.Role {
	case RoleViewer:
	case RoleEmitter:
		if hello.SessionID == "" && !hello.Transient {
			return Envelope{}, fmt.Errorf("%w: emitter hello needs a sessionId", ErrMalformedMessage)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: unknown role %q", ErrMalformedMessage, hello.Role)
	}
	return hello, nil
}

// refuse reports err to a peer that never made it past the handshake and
// closes it.
func (s *Server) refuse(wsConn *websocket.Conn, remote string, err error) {
	s.logger.Warn("handshake refused", "remote", remote, "err", err)
	deadline := time.Now().Add(time.Second)
	wsConn.SetWriteDeadline(deadline)
	_ = wsConn.WriteJSON(ErrorMessage{Type: MsgError, Code: ErrorCode(err), Message: err.Error()})
	_ = wsConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrorCode(err)), deadline)
	wsConn.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	emitters, viewers := s.hub.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.hub.Registry().Len(),
		"emitters": emitters,
		"viewers":  viewers,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) || !s.requireAuth(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.hub.Snapshot())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) || !s.requireAuth(w, r) {
		return
	}
	status := s.hub.Status(r.PathValue("id"))
	code := http.StatusOK
	if !status.Found {
		code = http.StatusNotFound
	}
	writeJSON(w, code, status)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) || !s.requireAuth(w, r) {
		return
	}
	var body struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	target := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), s.hub.opts.CommandTimeout)
	defer cancel()
	cmd, err := s.hub.SendCommand(ctx, target, body.Payload)

	code := http.StatusAccepted
	if err != nil {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, commandAck(cmd.CommandID, target, err))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.authorize(r) {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if s.tokenMatches(r.URL.Query().Get("token")) || s.tokenMatches(r.Header.Get(TokenHeader)) {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && s.tokenMatches(strings.TrimPrefix(auth, "Bearer "))
}

func (s *Server) tokenMatches(tok string) bool {
	return s.authToken == "" || tok == s.authToken
}

// checkOrigin accepts non-browser clients, same-host pages, and pages served
// from loopback or an allowed overlay address.
func (s *Server) checkOrigin(r *http.Request) bool {
	o := r.Header.Get("Origin")
	if o == "" {
		return true
	}
	parsed, err := url.Parse(o)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	host := parsed.Hostname()
	if host == "localhost" {
		return true
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.IsLoopback() {
			return true
		}
		return s.validator != nil && s.validator.Accept(host)
	}
	return false
}

// ListenAndServe serves the relay on addr until ctx is done. Peers outside
// the validator's prefixes are dropped at accept time.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if s.validator != nil {
		ln = origin.NewListener(ln, s.validator, s.logger)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		return srv.Shutdown(shutdownCtx)
	}
}
