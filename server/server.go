package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"redskord/auth"
	"redskord/call"
	"redskord/db"
	"redskord/directory"
	"redskord/events"
	"redskord/models"
	"redskord/presence"
	"redskord/protocol"
	"redskord/relay"
	"redskord/telemetry"
)

// Frames carry at most one voice clip plus its envelope.
const maxFrameSize = directory.MaxVoiceClip + 64<<10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients are served from anywhere on the LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	db      *db.DB
	config  *ServerConfig
	log     *slog.Logger
	tokens  *auth.Tokens
	events  events.Publisher
	metrics *telemetry.Metrics

	presence *presence.Registry
	dir      *directory.Service
	calls    *call.Manager
	relay    *relay.Relay

	sessions map[string]*Session // connection id → session
	closing  bool
	mu       sync.RWMutex
	handlers sync.WaitGroup
	httpSrv  *http.Server
	started  time.Time

	// announce orders online and offline announcements of the same user.
	announce sync.Mutex
}

type ServerConfig struct {
	Addr         string
	MaxOnline    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	HistoryLimit int
	StaticDir    string
	PublicIP     string
}

// Options carries the optional collaborators. Zero values disable them:
// without Tokens the websocket accepts a bare user id, as the browser
// client sends it.
type Options struct {
	Logger  *slog.Logger
	Tokens  *auth.Tokens
	Events  events.Publisher
	Metrics *telemetry.Metrics
}

func New(database *db.DB, config *ServerConfig, opts Options) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 64
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 200
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}

	s := &Server{
		db:       database,
		config:   config,
		log:      opts.Logger,
		tokens:   opts.Tokens,
		events:   opts.Events,
		metrics:  opts.Metrics,
		presence: presence.New(config.MaxOnline),
		sessions: make(map[string]*Session),
		started:  time.Now(),
	}
	s.dir = directory.New(database, s.presence, s.log.With("component", "directory"))
	s.calls = call.New(s.presence, s.log.With("component", "call"), call.Hooks{
		Started: s.callStarted,
		Ended:   s.callEnded,
	})
	s.relay = relay.New(s.presence, s.log.With("component", "relay"))
	s.relay.Relayed = func(kind string, err error) {
		s.metrics.SignalRelayed(context.Background(), kind, err == nil)
	}
	return s
}

// Handler returns the HTTP API, the websocket endpoint and the static client.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.config.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.config.StaticDir)))
	}
	return mux
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.log.Info("redskord server started", "addr", listener.Addr().String(), "max_online", s.presence.MaxOnline())
	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.handlers.Add(1)
	s.mu.Unlock()
	defer s.handlers.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sess := newSession(conn, s.config.SendBuffer, s.log)
	if !s.addSession(sess) {
		conn.Close()
		return
	}
	go sess.writePump(s.config.WriteTimeout, s.config.ReadTimeout/2)
	s.handleConnection(sess)
}

// handleConnection reads and dispatches frames until the peer goes away,
// then runs the disconnect cascade. Frames of one connection are handled in
// arrival order.
func (s *Server) handleConnection(sess *Session) {
	sess.log.Info("client connected", "remote", sess.remoteAddr)
	defer s.disconnect(sess)

	conn := sess.conn
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !sess.Closed() {
				sess.log.Debug("read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		pkt, err := protocol.ParsePacket(frame)
		if err != nil {
			sess.log.Debug("parse error", "error", err)
			s.sendError(sess, "", err)
			continue
		}

		if !s.dispatch(sess, pkt) {
			return
		}
	}
}

// dispatch handles one packet and reports whether the connection stays open.
// A panicking handler is logged and ends the connection, never the process.
func (s *Server) dispatch(sess *Session, pkt *protocol.Packet) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			sess.log.Error("handler panic", "type", pkt.Type, "panic", r)
			keep = false
		}
	}()
	s.handlePacket(sess, pkt)
	return pkt.Type != protocol.TypeBye
}

func (s *Server) handlePacket(sess *Session, pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypePing:
		s.handlePing(sess)
	case protocol.TypeAuthenticate:
		s.handleAuthenticate(sess, pkt)
	case protocol.TypeBye:
		s.handleBye(sess)
	case protocol.TypeGetUsers:
		s.handleGetUsers(sess)
	case protocol.TypeCallUser:
		s.handleCallUser(sess, pkt)
	case protocol.TypeAnswerCall:
		s.handleAnswerCall(sess, pkt)
	case protocol.TypeRejectCall:
		s.handleRejectCall(sess, pkt)
	case protocol.TypeEndCall:
		s.handleEndCall(sess, pkt)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeIceCandidate:
		s.handleSignal(sess, pkt)
	case protocol.TypeSendMessage:
		s.handleSendMessage(sess, pkt)
	case protocol.TypeGetMessages:
		s.handleGetMessages(sess)
	case protocol.TypeSendPrivateMessage:
		s.handleSendPrivateMessage(sess, pkt)
	case protocol.TypeGetPrivateMessages:
		s.handleGetPrivateMessages(sess, pkt)
	case protocol.TypeSendFriendRequest:
		s.handleSendFriendRequest(sess, pkt)
	case protocol.TypeAcceptFriendRequest:
		s.handleAcceptFriendRequest(sess, pkt)
	case protocol.TypeRejectFriendRequest:
		s.handleRejectFriendRequest(sess, pkt)
	case protocol.TypeRemoveFriend:
		s.handleRemoveFriend(sess, pkt)
	default:
		s.send(sess, protocol.TypeError, protocol.Failure{Op: pkt.Type, Code: "unknown_type", Error: "unknown packet type"})
	}
}

// disconnect tears a connection down: the registry entry goes first, then
// the calls naming the user, then the offline broadcast.
func (s *Server) disconnect(sess *Session) {
	s.removeSession(sess.ID())
	sess.Close()

	userID, ok := s.presence.Unregister(sess)
	if !ok {
		sess.log.Info("client disconnected", "remote", sess.remoteAddr)
		return
	}
	_, username := sess.User()
	s.goOffline(userID, username, sess)
	sess.log.Info("client disconnected", "user", userID, "remote", sess.remoteAddr)
}

// goOffline runs everything that follows conn leaving the registry as
// userID. Only calls held through conn end. A user who is already back on
// another connection is not announced offline.
func (s *Server) goOffline(userID, username string, conn presence.Conn) {
	s.calls.CleanupConn(userID, conn)

	ctx := context.Background()
	s.metrics.UserOffline(ctx)

	s.announce.Lock()
	defer s.announce.Unlock()
	if s.presence.Online(userID) {
		return
	}

	now := time.Now().UTC()
	s.dir.Touch(userID, now)
	s.notifyFriendsPresence(userID, username, false)
	s.broadcastUserList()
	s.broadcast(protocol.TypeUserLeft, userLeft{UserID: userID})

	s.events.Publish(ctx, events.TopicPresence, events.PresenceEvent{
		UserID: userID, Username: username, Status: models.StatusOffline, At: now,
	})
}

func (s *Server) send(sess presence.Conn, pktType string, data any) {
	pkt, err := protocol.NewPacket(pktType, data)
	if err != nil {
		s.log.Error("failed to encode packet", "type", pktType, "error", err)
		return
	}
	if err := sess.Send(pkt); err != nil {
		s.log.Debug("packet dropped", "conn", sess.ID(), "type", pktType, "error", err)
	}
}

func (s *Server) sendTo(userID, pktType string, data any) bool {
	conn, ok := s.presence.ConnFor(userID)
	if !ok {
		return false
	}
	s.send(conn, pktType, data)
	return true
}

// sendError reports err to sess as a generic error packet.
func (s *Server) sendError(sess *Session, op string, err error) {
	s.sendFailure(sess, protocol.TypeError, op, err)
}

func (s *Server) sendFailure(sess *Session, pktType, op string, err error) {
	f := failure(op, err)
	if f.Code == "internal" {
		sess.log.Error("request failed", "op", op, "error", err)
	}
	s.send(sess, pktType, f)
}

func (s *Server) sendBye(sess *Session, reason, details string) {
	s.send(sess, protocol.TypeBye, protocol.Bye{Reason: reason, Details: details})
}

// addSession tracks sess unless shutdown has begun.
func (s *Server) addSession(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess.ID()] = sess
	return true
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) snapshotSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Shutdown sends bye to every connection, ends all calls and stops the
// HTTP server. reason is e.g. "maintenance" or "restart"; completionTime,
// when set, tells clients when to come back.
func (s *Server) Shutdown(reason string, completionTime time.Time) {
	var details string
	if !completionTime.IsZero() {
		details = completionTime.UTC().Format(time.RFC3339)
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	ended := s.calls.Close()
	sessions := s.snapshotSessions()
	for _, sess := range sessions {
		s.sendBye(sess, reason, details)
		sess.Close()
	}
	s.log.Info("shutdown", "reason", reason, "connections", len(sessions), "calls_ended", ended)

	// Let disconnect cascades finish before the caller closes the database.
	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.config.WriteTimeout):
		s.log.Warn("shutdown: connections still draining")
	}

	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn("http shutdown", "error", err)
		}
	}
}

// GetStats returns server statistics as a formatted string
func (s *Server) GetStats() string {
	users := s.presence.Identities()
	sort.Strings(users)

	s.mu.RLock()
	connections := len(s.sessions)
	s.mu.RUnlock()

	return fmt.Sprintf("connections=%d,online=%d/%d,calls=%d,uptime=%s,users=%s",
		connections,
		len(users), s.presence.MaxOnline(),
		s.calls.Count(),
		time.Since(s.started).Truncate(time.Second),
		strings.Join(users, ";"),
	)
}

func (s *Server) callStarted(r call.Room) {
	ctx := context.Background()
	s.metrics.CallStarted(ctx, string(r.Kind))
	s.events.Publish(ctx, events.TopicCall, events.CallEvent{
		RoomID: r.ID, CallerID: r.CallerID, CalleeID: r.CalleeID,
		Kind: string(r.Kind), State: r.State.String(), At: time.Now().UTC(),
	})
}

func (s *Server) callEnded(r call.Room, reason string) {
	ctx := context.Background()
	s.metrics.CallEnded(ctx, string(r.Kind), reason)
	s.events.Publish(ctx, events.TopicCall, events.CallEvent{
		RoomID: r.ID, CallerID: r.CallerID, CalleeID: r.CalleeID,
		Kind: string(r.Kind), State: r.State.String(), Reason: reason, At: time.Now().UTC(),
	})
}

func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}
