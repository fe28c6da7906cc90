package server

import (
	"context"

	"redskord/models"
	"redskord/protocol"
)

type sendMessageRequest struct {
	Text string `json:"text"`
}

type sendPrivateMessageRequest struct {
	ToUserID      string  `json:"toUserId"`
	Text          string  `json:"text"`
	VoiceMessage  string  `json:"voiceMessage"`
	VoiceDuration float64 `json:"voiceDuration"`
}

type getPrivateMessagesRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// privateMessage is a stored message as one side of the conversation sees it.
type privateMessage struct {
	models.Message
	FromUsername string `json:"fromUsername"`
	ToUsername   string `json:"toUsername"`
	IsOwn        bool   `json:"isOwn"`
}

type privateMessagesHistory struct {
	Messages  []privateMessage `json:"messages"`
	OtherUser models.Profile   `json:"otherUser"`
}

func (s *Server) handleSendMessage(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.requireUser(sess, pkt.Type)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := pkt.Decode(&req); err != nil {
		s.sendError(sess, pkt.Type, err)
		return
	}
	msg, err := s.dir.PostChannelMessage(userID, req.Text)
	if err != nil {
		s.sendError(sess, pkt.Type, err)
		return
	}
	s.metrics.MessageSent(context.Background(), "channel")

	s.broadcast(protocol.TypeNewMessage, msg)
}

func (s *Server) handleGetMessages(sess *Session) {
	if _, ok := s.requireUser(sess, protocol.TypeGetMessages); !ok {
		return
	}
	msgs, err := s.dir.ChannelHistory(s.config.HistoryLimit)
	if err != nil {
		s.sendError(sess, protocol.TypeGetMessages, err)
		return
	}
	s.send(sess, protocol.TypeMessageHistory, msgs)
}

func (s *Server) handleSendPrivateMessage(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.requireUser(sess, pkt.Type)
	if !ok {
		return
	}
	var req sendPrivateMessageRequest
	if err := pkt.Decode(&req); err != nil {
		s.sendError(sess, pkt.Type, err)
		return
	}
	msg, from, to, err := s.dir.SendPrivateMessage(userID, req.ToUserID, req.Text, req.VoiceMessage, req.VoiceDuration)
	if err != nil {
		s.sendError(sess, pkt.Type, err)
		return
	}
	s.metrics.MessageSent(context.Background(), "private")

	view := privateMessage{Message: *msg, FromUsername: from.Username, ToUsername: to.Username}
	view.IsOwn = true
	s.send(sess, protocol.TypePrivateMessage, view)
	if to.ID != from.ID {
		view.IsOwn = false
		s.sendTo(to.ID, protocol.TypePrivateMessage, view)
	}
}

func (s *Server) handleGetPrivateMessages(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.requireUser(sess, pkt.Type)
	if !ok {
		return
	}
	var req getPrivateMessagesRequest
	if err := pkt.Decode(&req); err != nil {
		s.sendError(sess, pkt.Type, err)
		return
	}
	msgs, other, err := s.dir.Conversation(userID, req.OtherUserID)
	if err != nil {
		s.sendError(sess, pkt.Type, err)
		return
	}

	_, username := sess.User()
	names := map[string]string{userID: username, other.ID: other.Username}
	history := privateMessagesHistory{
		Messages:  make([]privateMessage, 0, len(msgs)),
		OtherUser: other.Profile(),
	}
	for _, m := range msgs {
		history.Messages = append(history.Messages, privateMessage{
			Message:      m,
			FromUsername: names[m.FromUserID],
			ToUsername:   names[m.ToUserID],
			IsOwn:        m.FromUserID == userID,
		})
	}
	s.send(sess, protocol.TypePrivateMessagesHistory, history)
}
