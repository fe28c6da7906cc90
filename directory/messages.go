package directory

import (
	"strings"

	"redskord/models"
)

// MaxVoiceClip is the largest accepted voice clip, as an encoded data URL.
const MaxVoiceClip = 2 << 20

// SendPrivateMessage appends a text or voice message to the conversation
// between from and to. The sender and recipient records are returned with it.
func (s *Service) SendPrivateMessage(from, to, text, voice string, voiceDuration float64) (*models.Message, *models.User, *models.User, error) {
	if strings.TrimSpace(text) == "" && voice == "" {
		return nil, nil, nil, ErrInvalidInput
	}
	if len(voice) > MaxVoiceClip || voiceDuration < 0 {
		return nil, nil, nil, ErrInvalidInput
	}

	sender, err := s.getUser("private message", from)
	if err != nil {
		return nil, nil, nil, err
	}
	recipient, err := s.getUser("private message", to)
	if err != nil {
		return nil, nil, nil, err
	}

	msg := &models.Message{
		FromUserID:    from,
		ToUserID:      to,
		Text:          text,
		VoiceMessage:  voice,
		VoiceDuration: voiceDuration,
	}
	if err := s.store.AppendMessage(msg); err != nil {
		return nil, nil, nil, s.unavailable("private message", err)
	}
	return msg, sender, recipient, nil
}

// Conversation returns the messages between a and b and b's record.
func (s *Service) Conversation(a, b string) ([]models.Message, *models.User, error) {
	other, err := s.getUser("conversation", b)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.GetConversation(a, b)
	if err != nil {
		return nil, nil, s.unavailable("conversation", err)
	}
	return msgs, other, nil
}

// PostChannelMessage appends a message to the public channel.
func (s *Service) PostChannelMessage(userID, text string) (*models.ChannelMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}
	u, err := s.getUser("channel message", userID)
	if err != nil {
		return nil, err
	}
	msg := &models.ChannelMessage{UserID: u.ID, Username: u.Username, Text: text}
	if err := s.store.AppendChannelMessage(msg); err != nil {
		return nil, s.unavailable("channel message", err)
	}
	return msg, nil
}

func (s *Service) ChannelHistory(limit int) ([]models.ChannelMessage, error) {
	msgs, err := s.store.GetChannelMessages(limit)
	if err != nil {
		return nil, s.unavailable("channel history", err)
	}
	return msgs, nil
}
