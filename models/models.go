package models

import (
	"sort"
	"time"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // hashed
	Friends   []string  `json:"friends"`
	Requests  []string  `json:"friendRequests"` // pending incoming, by requester id
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Profile is the public part of a user that is safe to send to other users.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username}
}

// Friend is a profile annotated with the current presence status.
type Friend struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type FriendRequest struct {
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
}

type Message struct {
	ID            string    `json:"id"`
	FromUserID    string    `json:"fromUserId"`
	ToUserID      string    `json:"toUserId"`
	Text          string    `json:"text"`
	VoiceMessage  string    `json:"voiceMessage,omitempty"`
	VoiceDuration float64   `json:"voiceDuration,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type ChannelMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationKey returns the canonical key of the conversation between a and b.
func ConversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}
