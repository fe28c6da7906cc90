package server

import (
	"context"
	"time"

	"redskord/events"
	"redskord/models"
	"redskord/presence"
	"redskord/protocol"
)

type authenticateRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type authenticatedUser struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Friends  []models.Friend `json:"friends"`
}

type authenticatedResponse struct {
	User           authenticatedUser      `json:"user"`
	FriendRequests []models.FriendRequest `json:"friendRequests"`
}

type presenceChanged struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type userLeft struct {
	UserID string `json:"userId"`
}

func (s *Server) handlePing(sess *Session) {
	s.send(sess, protocol.TypePong, nil)
}

// requireUser returns the user bound to sess, or reports not_authenticated.
func (s *Server) requireUser(sess *Session, op string) (string, bool) {
	userID, ok := s.presence.IdentityFor(sess)
	if !ok {
		s.sendError(sess, op, errNotAuthenticated)
		return "", false
	}
	return userID, true
}

func (s *Server) handleAuthenticate(sess *Session, pkt *protocol.Packet) {
	var req authenticateRequest
	if err := pkt.Decode(&req); err != nil {
		s.sendFailure(sess, protocol.TypeAuthError, "authenticate", err)
		return
	}

	userID := req.UserID
	if s.tokens != nil {
		var err error
		if userID, err = s.tokens.Verify(req.Token); err != nil {
			s.sendFailure(sess, protocol.TypeAuthError, "authenticate", err)
			return
		}
	}

	user, err := s.dir.Authenticate(userID)
	if err != nil {
		s.sendFailure(sess, protocol.TypeAuthError, "authenticate", err)
		return
	}
	// Everything the reply needs is loaded before the user goes online.
	friends, err := s.dir.FriendsOf(user.ID)
	if err != nil {
		s.sendFailure(sess, protocol.TypeAuthError, "authenticate", err)
		return
	}
	pending, err := s.dir.PendingRequests(user.ID)
	if err != nil {
		s.sendFailure(sess, protocol.TypeAuthError, "authenticate", err)
		return
	}

	// Switching accounts on a live connection logs the previous one out.
	if current, ok := s.presence.IdentityFor(sess); ok && current != user.ID {
		_, prevName := sess.User()
		if _, ok := s.presence.Unregister(sess); ok {
			s.goOffline(current, prevName, sess)
		}
	}

	evicted, err := s.presence.Register(user.ID, sess)
	if err != nil {
		s.sendFailure(sess, protocol.TypeAuthError, "authenticate", err)
		return
	}
	prevID, _ := sess.User()
	wasBound := evicted == nil && prevID == user.ID
	sess.setUser(user.ID, user.Username)
	if evicted != nil {
		s.evict(user.ID, evicted)
	}

	s.send(sess, protocol.TypeAuthenticated, authenticatedResponse{
		User: authenticatedUser{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Friends:  friends,
		},
		FriendRequests: pending,
	})

	online := make([]models.Friend, 0, len(friends))
	for _, f := range friends {
		if f.Status == models.StatusOnline {
			online = append(online, f)
		}
	}
	s.send(sess, protocol.TypeFriendsOnline, online)

	if wasBound || evicted != nil {
		// Same user, new handshake: nobody else needs to hear about it.
		return
	}

	ctx := context.Background()
	s.metrics.UserOnline(ctx)

	s.announce.Lock()
	// A connection that already dropped has been announced offline.
	if current, ok := s.presence.IdentityFor(sess); ok && current == user.ID {
		s.notifyFriendsPresence(user.ID, user.Username, true)
		s.broadcastUserList()
		s.events.Publish(ctx, events.TopicPresence, events.PresenceEvent{
			UserID: user.ID, Username: user.Username, Status: models.StatusOnline, At: time.Now().UTC(),
		})
	}
	s.announce.Unlock()
	sess.log.Info("user authenticated", "user", user.ID, "username", user.Username)
}

// evict closes a connection that lost its user to a newer login. The user
// stays online, so no presence change is announced.
func (s *Server) evict(userID string, old presence.Conn) {
	s.calls.CleanupConn(userID, old)
	if sess, ok := old.(*Session); ok {
		s.sendBye(sess, "replaced", "signed in from another connection")
		sess.Close()
		sess.log.Info("session replaced", "user", userID)
	}
}

func (s *Server) handleBye(sess *Session) {
	s.sendBye(sess, "", "")
	// The read loop stops after this packet and disconnect runs.
}

func (s *Server) handleGetUsers(sess *Session) {
	if _, ok := s.requireUser(sess, protocol.TypeGetUsers); !ok {
		return
	}
	users, err := s.dir.AllUsersWithStatus()
	if err != nil {
		s.sendError(sess, protocol.TypeGetUsers, err)
		return
	}
	s.send(sess, protocol.TypeUserList, users)
}

// notifyFriendsPresence tells userID's online friends that it came or went.
func (s *Server) notifyFriendsPresence(userID, username string, online bool) {
	friends, err := s.dir.OnlineFriendsOf(userID)
	if err != nil {
		s.log.Warn("failed to load friends for presence", "user", userID, "error", err)
		return
	}
	status := models.StatusOffline
	if online {
		status = models.StatusOnline
	}
	change := presenceChanged{UserID: userID, Username: username, Status: status}
	for _, f := range friends {
		s.sendTo(f.ID, protocol.TypePresenceChanged, change)
	}
}

// broadcastUserList sends the full user list with statuses to everyone online.
func (s *Server) broadcastUserList() {
	users, err := s.dir.AllUsersWithStatus()
	if err != nil {
		s.log.Warn("failed to load user list", "error", err)
		return
	}
	s.broadcast(protocol.TypeUserList, users)
}

// broadcast sends one packet to every online connection.
func (s *Server) broadcast(pktType string, data any) {
	pkt, err := protocol.NewPacket(pktType, data)
	if err != nil {
		s.log.Error("failed to encode packet", "type", pktType, "error", err)
		return
	}
	for _, conn := range s.presence.Conns() {
		conn.Send(pkt)
	}
}
