package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"redskord/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestCreateUserAndCheckPassword(t *testing.T) {
	database := setupTestDB(t)

	user, err := database.CreateUser("Alice", "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == "" || user.Password == "secret" {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := database.CreateUser("alice", "", "other"); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists for case-insensitive duplicate, got %v", err)
	}

	got, err := database.CheckPassword("ALICE", "secret")
	if err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("CheckPassword returned %s, want %s", got.ID, user.ID)
	}

	if _, err := database.CheckPassword("alice", "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("expected ErrWrongPassword, got %v", err)
	}
	if _, err := database.CheckPassword("nobody", "secret"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveUsersPersistsEdgesInOrder(t *testing.T) {
	database := setupTestDB(t)

	a, _ := database.CreateUser("a", "", "pw")
	b, _ := database.CreateUser("b", "", "pw")
	c, _ := database.CreateUser("c", "", "pw")

	a.Friends = []string{c.ID, b.ID}
	a.Requests = []string{b.ID}
	b.Friends = []string{a.ID}
	if err := database.SaveUsers(a, b); err != nil {
		t.Fatalf("SaveUsers: %v", err)
	}

	got, err := database.GetUser(a.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if len(got.Friends) != 2 || got.Friends[0] != c.ID || got.Friends[1] != b.ID {
		t.Errorf("Friends = %v, want [%s %s]", got.Friends, c.ID, b.ID)
	}
	if len(got.Requests) != 1 || got.Requests[0] != b.ID {
		t.Errorf("Requests = %v, want [%s]", got.Requests, b.ID)
	}

	users, err := database.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 3 || users[0].ID != a.ID || users[2].ID != c.ID {
		t.Fatalf("ListUsers order wrong: %v", users)
	}
	if len(users[1].Friends) != 1 || users[1].Friends[0] != a.ID {
		t.Errorf("b.Friends = %v", users[1].Friends)
	}
}

func TestSaveUsersIsAtomic(t *testing.T) {
	database := setupTestDB(t)

	a, _ := database.CreateUser("a", "", "pw")
	ghost := &models.User{ID: "missing", Friends: []string{a.ID}}
	a.Friends = []string{"missing"}

	if err := database.SaveUsers(a, ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, _ := database.GetUser(a.ID)
	if len(got.Friends) != 0 {
		t.Errorf("partial write leaked: %v", got.Friends)
	}
}

func TestSearchUsers(t *testing.T) {
	database := setupTestDB(t)

	me, _ := database.CreateUser("marker", "", "pw")
	database.CreateUser("Mark", "", "pw")
	database.CreateUser("remark", "", "pw")
	database.CreateUser("bob", "", "pw")
	database.CreateUser("mar_x", "", "pw")

	users, err := database.SearchUsers("MARK", me.ID, 10)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 results, got %d", len(users))
	}
	for _, u := range users {
		if u.ID == me.ID {
			t.Error("search returned the excluded user")
		}
	}

	// Wildcards in the query are literal.
	users, _ = database.SearchUsers("_", me.ID, 10)
	if len(users) != 1 || users[0].Username != "mar_x" {
		t.Errorf("underscore search = %v", users)
	}

	users, _ = database.SearchUsers("r", "", 2)
	if len(users) != 2 {
		t.Errorf("limit not applied: %d results", len(users))
	}
}

func TestConversationIsKeyedByUnorderedPair(t *testing.T) {
	database := setupTestDB(t)

	msgs := []*models.Message{
		{FromUserID: "a", ToUserID: "b", Text: "hi"},
		{FromUserID: "b", ToUserID: "a", Text: "hello", VoiceMessage: "data:audio/webm;base64,AAAA", VoiceDuration: 1.5},
		{FromUserID: "a", ToUserID: "c", Text: "other"},
	}
	for _, m := range msgs {
		if err := database.AppendMessage(m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	conv, err := database.GetConversation("b", "a")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv))
	}
	if conv[0].Text != "hi" || conv[1].Text != "hello" {
		t.Errorf("order wrong: %q, %q", conv[0].Text, conv[1].Text)
	}
	if conv[1].VoiceDuration != 1.5 || conv[1].VoiceMessage == "" {
		t.Errorf("voice clip lost: %+v", conv[1])
	}
	if conv[0].ID == "" || conv[0].Timestamp.IsZero() {
		t.Errorf("id/timestamp not filled: %+v", conv[0])
	}

	empty, err := database.GetConversation("x", "y")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty conversation = %v, %v", empty, err)
	}
}

func TestChannelMessagesKeepsTail(t *testing.T) {
	database := setupTestDB(t)

	for _, text := range []string{"one", "two", "three"} {
		if err := database.AppendChannelMessage(&models.ChannelMessage{UserID: "u", Username: "u", Text: text}); err != nil {
			t.Fatalf("AppendChannelMessage: %v", err)
		}
	}

	msgs, err := database.GetChannelMessages(2)
	if err != nil {
		t.Fatalf("GetChannelMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "two" || msgs[1].Text != "three" {
		t.Errorf("tail = %+v", msgs)
	}
}

func TestUpdateLastSeen(t *testing.T) {
	database := setupTestDB(t)
	u, _ := database.CreateUser("a", "", "pw")

	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := database.UpdateLastSeen(u.ID, when); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}
	got, _ := database.GetUser(u.ID)
	if !got.LastSeen.Equal(when) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, when)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := setupTestDB(t)
	if err := database.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if !database.columnExists("users", "last_seen") {
		t.Error("last_seen column missing")
	}
}
