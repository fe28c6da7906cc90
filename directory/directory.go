// Package directory answers who users are, who their friends are and which
// of them are online, and owns every mutation of persisted user records.
//
// Read-modify-write sequences on user records are serialized by one mutex
// and written back through a single store transaction, so a friend request
// is never observed half resolved.
package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"redskord/db"
	"redskord/models"
	"redskord/presence"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrRequestNotFound  = errors.New("friend request not found")
	ErrAlreadyRequested = errors.New("friend request already sent")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrNotFriends       = errors.New("not friends")
	ErrSelfRequest      = errors.New("cannot befriend yourself")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrWrongPassword    = errors.New("wrong password")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnavailable      = errors.New("directory unavailable")
)

// SearchLimit caps the number of users returned by Search.
const SearchLimit = 10

// Store is the persistence collaborator. *db.DB satisfies it.
type Store interface {
	CreateUser(username, email, password string) (*models.User, error)
	CheckPassword(username, password string) (*models.User, error)
	GetUser(id string) (*models.User, error)
	GetUserByName(username string) (*models.User, error)
	ListUsers() ([]*models.User, error)
	SaveUsers(users ...*models.User) error
	UpdateLastSeen(id string, t time.Time) error
	SearchUsers(query, excludeID string, limit int) ([]*models.User, error)
	AppendMessage(m *models.Message) error
	GetConversation(a, b string) ([]models.Message, error)
	AppendChannelMessage(m *models.ChannelMessage) error
	GetChannelMessages(limit int) ([]models.ChannelMessage, error)
}

type Service struct {
	store    Store
	presence *presence.Registry
	log      *slog.Logger

	mu sync.Mutex
}

func New(store Store, registry *presence.Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, presence: registry, log: log}
}

// unavailable hides a persistence failure behind ErrUnavailable and logs the cause.
func (s *Service) unavailable(op string, err error) error {
	s.log.Error("store failure", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, ErrUnavailable)
}

func (s *Service) getUser(op, id string) (*models.User, error) {
	u, err := s.store.GetUser(id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.unavailable(op, err)
	}
	return u, nil
}

// Register creates an account. Usernames are unique case-insensitively.
func (s *Service) Register(username, password, email string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}
	u, err := s.store.CreateUser(username, strings.TrimSpace(email), password)
	if errors.Is(err, db.ErrUserExists) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, s.unavailable("register", err)
	}
	s.log.Info("user registered", "user", u.ID, "username", u.Username)
	return u, nil
}

func (s *Service) Login(username, password string) (*models.User, error) {
	u, err := s.store.CheckPassword(strings.TrimSpace(username), password)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, db.ErrWrongPassword):
		return nil, ErrWrongPassword
	case err != nil:
		return nil, s.unavailable("login", err)
	}
	return u, nil
}

// Authenticate resolves a user id presented by a connection.
func (s *Service) Authenticate(id string) (*models.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.getUser("authenticate", id)
}

func (s *Service) status(id string) string {
	if s.presence.Online(id) {
		return models.StatusOnline
	}
	return models.StatusOffline
}

// FriendsOf returns the friends of id in storage order, annotated with presence.
func (s *Service) FriendsOf(id string) ([]models.Friend, error) {
	u, err := s.getUser("friends", id)
	if err != nil {
		return nil, err
	}

	friends := make([]models.Friend, 0, len(u.Friends))
	for _, fid := range u.Friends {
		f, err := s.store.GetUser(fid)
		if errors.Is(err, db.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, s.unavailable("friends", err)
		}
		friends = append(friends, models.Friend{ID: f.ID, Username: f.Username, Status: s.status(f.ID)})
	}
	return friends, nil
}

func (s *Service) OnlineFriendsOf(id string) ([]models.Friend, error) {
	friends, err := s.FriendsOf(id)
	if err != nil {
		return nil, err
	}
	online := friends[:0]
	for _, f := range friends {
		if f.Status == models.StatusOnline {
			online = append(online, f)
		}
	}
	return online, nil
}

// AllUsersWithStatus lists every known user with a derived online/offline status.
func (s *Service) AllUsersWithStatus() ([]models.Friend, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, s.unavailable("list users", err)
	}
	out := make([]models.Friend, 0, len(users))
	for _, u := range users {
		out = append(out, models.Friend{ID: u.ID, Username: u.Username, Status: s.status(u.ID)})
	}
	return out, nil
}

func (s *Service) Search(query, excludeID string) ([]models.Friend, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Friend{}, nil
	}
	users, err := s.store.SearchUsers(query, excludeID, SearchLimit)
	if err != nil {
		return nil, s.unavailable("search", err)
	}
	out := make([]models.Friend, 0, len(users))
	for _, u := range users {
		out = append(out, models.Friend{ID: u.ID, Username: u.Username, Status: s.status(u.ID)})
	}
	return out, nil
}

// Touch records that id was last seen at t. Failures are logged only.
func (s *Service) Touch(id string, t time.Time) {
	if err := s.store.UpdateLastSeen(id, t); err != nil {
		s.log.Warn("failed to update last seen", "user", id, "error", err)
	}
}
