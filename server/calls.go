package server

import (
	"errors"

	"redskord/call"
	"redskord/models"
	"redskord/presence"
	"redskord/protocol"
	"redskord/relay"
)

type callUserRequest struct {
	TargetUserID string `json:"targetUserId"`
	CallType     string `json:"callType"`
	RoomID       string `json:"roomId"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

func (s *Server) handleCallUser(sess *Session, pkt *protocol.Packet) {
	if _, ok := s.requireUser(sess, protocol.TypeCallUser); !ok {
		return
	}
	var req callUserRequest
	if err := pkt.Decode(&req); err != nil {
		s.sendFailure(sess, protocol.TypeCallError, protocol.TypeCallUser, err)
		return
	}
	kind, err := call.ParseKind(req.CallType)
	if err != nil {
		s.sendFailure(sess, protocol.TypeCallError, protocol.TypeCallUser, err)
		return
	}

	userID, username := sess.User()
	caller := models.Profile{ID: userID, Username: username}
	if _, err := s.calls.CreateRoom(caller, req.TargetUserID, kind, req.RoomID); err != nil {
		s.sendFailure(sess, protocol.TypeCallError, protocol.TypeCallUser, err)
	}
}

func (s *Server) handleAnswerCall(sess *Session, pkt *protocol.Packet) {
	s.roomOp(sess, pkt, protocol.TypeAnswerCall, s.calls.Answer)
}

func (s *Server) handleRejectCall(sess *Session, pkt *protocol.Packet) {
	s.roomOp(sess, pkt, protocol.TypeRejectCall, s.calls.Reject)
}

func (s *Server) handleEndCall(sess *Session, pkt *protocol.Packet) {
	s.roomOp(sess, pkt, protocol.TypeEndCall, func(roomID string, conn presence.Conn) error {
		err := s.calls.End(roomID, conn)
		if errors.Is(err, call.ErrRoomNotFound) {
			// Both sides usually hang up at once; the second one finds nothing.
			return nil
		}
		return err
	})
}

func (s *Server) roomOp(sess *Session, pkt *protocol.Packet, op string, fn func(string, presence.Conn) error) {
	if _, ok := s.requireUser(sess, op); !ok {
		return
	}
	var req roomRequest
	if err := pkt.Decode(&req); err != nil {
		s.sendFailure(sess, protocol.TypeCallError, op, err)
		return
	}
	if err := fn(req.RoomID, sess); err != nil {
		s.sendFailure(sess, protocol.TypeCallError, op, err)
	}
}

// handleSignal relays offer/answer/ice-candidate packets. An offline target
// is not reported back: signaling only matters while both peers are live.
func (s *Server) handleSignal(sess *Session, pkt *protocol.Packet) {
	var sig protocol.Signal
	if err := pkt.Decode(&sig); err != nil {
		s.sendFailure(sess, protocol.TypeCallError, pkt.Type, err)
		return
	}
	err := s.relay.Relay(sess, pkt.Type, sig.Target, sig.RoomID, sig.Payload)
	switch {
	case err == nil, errors.Is(err, relay.ErrTargetOffline):
	default:
		s.sendFailure(sess, protocol.TypeCallError, pkt.Type, err)
	}
}
