package server

import (
	"redskord/directory"
	"redskord/models"
	"redskord/protocol"
)

type friendRequest struct {
	FriendID string `json:"friendId"`
}

type friendRequestSent struct {
	Success  bool   `json:"success"`
	FriendID string `json:"friendId"`
}

type friendAdded struct {
	Friend models.Friend `json:"friend"`
}

type friendRequestsUpdated struct {
	FriendRequests []models.FriendRequest `json:"friendRequests"`
}

type friendRemoved struct {
	FriendID string `json:"friendId"`
}

// decodeFriendRequest reads the friendId of a friend operation, reporting
// failures as friendRequestError.
func (s *Server) decodeFriendRequest(sess *Session, pkt *protocol.Packet) (userID, friendID string, ok bool) {
	userID, ok = s.requireUser(sess, pkt.Type)
	if !ok {
		return "", "", false
	}
	var req friendRequest
	if err := pkt.Decode(&req); err != nil {
		s.sendFailure(sess, protocol.TypeFriendRequestError, pkt.Type, err)
		return "", "", false
	}
	if req.FriendID == "" {
		s.sendFailure(sess, protocol.TypeFriendRequestError, pkt.Type, directory.ErrInvalidInput)
		return "", "", false
	}
	return userID, req.FriendID, true
}

func (s *Server) handleSendFriendRequest(sess *Session, pkt *protocol.Packet) {
	userID, friendID, ok := s.decodeFriendRequest(sess, pkt)
	if !ok {
		return
	}
	if _, err := s.dir.SendFriendRequest(userID, friendID); err != nil {
		s.sendFailure(sess, protocol.TypeFriendRequestError, pkt.Type, err)
		return
	}

	_, username := sess.User()
	s.sendTo(friendID, protocol.TypeFriendRequest, models.FriendRequest{
		FromUserID:   userID,
		FromUsername: username,
	})
	s.send(sess, protocol.TypeFriendRequestSent, friendRequestSent{Success: true, FriendID: friendID})
}

func (s *Server) handleAcceptFriendRequest(sess *Session, pkt *protocol.Packet) {
	userID, friendID, ok := s.decodeFriendRequest(sess, pkt)
	if !ok {
		return
	}
	requester, err := s.dir.AcceptFriendRequest(userID, friendID)
	if err != nil {
		s.sendFailure(sess, protocol.TypeFriendRequestError, pkt.Type, err)
		return
	}

	status := models.StatusOffline
	if s.presence.Online(requester.ID) {
		status = models.StatusOnline
	}
	s.send(sess, protocol.TypeFriendAdded, friendAdded{
		Friend: models.Friend{ID: requester.ID, Username: requester.Username, Status: status},
	})

	_, username := sess.User()
	s.sendTo(requester.ID, protocol.TypeFriendAdded, friendAdded{
		Friend: models.Friend{ID: userID, Username: username, Status: models.StatusOnline},
	})
	s.sendPendingRequests(sess, userID)
}

func (s *Server) handleRejectFriendRequest(sess *Session, pkt *protocol.Packet) {
	userID, friendID, ok := s.decodeFriendRequest(sess, pkt)
	if !ok {
		return
	}
	if _, err := s.dir.RejectFriendRequest(userID, friendID); err != nil {
		s.sendFailure(sess, protocol.TypeFriendRequestError, pkt.Type, err)
		return
	}
	s.sendPendingRequests(sess, userID)
}

func (s *Server) handleRemoveFriend(sess *Session, pkt *protocol.Packet) {
	userID, friendID, ok := s.decodeFriendRequest(sess, pkt)
	if !ok {
		return
	}
	if err := s.dir.RemoveFriend(userID, friendID); err != nil {
		s.sendFailure(sess, protocol.TypeFriendRequestError, pkt.Type, err)
		return
	}
	s.send(sess, protocol.TypeFriendRemoved, friendRemoved{FriendID: friendID})
	s.sendTo(friendID, protocol.TypeFriendRemoved, friendRemoved{FriendID: userID})
}

func (s *Server) sendPendingRequests(sess *Session, userID string) {
	pending, err := s.dir.PendingRequests(userID)
	if err != nil {
		s.sendError(sess, "friendRequests", err)
		return
	}
	s.send(sess, protocol.TypeFriendRequestsUpdated, friendRequestsUpdated{FriendRequests: pending})
}
