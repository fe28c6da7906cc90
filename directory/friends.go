package directory

import (
	"errors"

	"redskord/models"
)

// Outcome is how a pending friend request is resolved.
type Outcome int

const (
	Accept Outcome = iota + 1
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// SendFriendRequest records that from asked to befriend to.
func (s *Service) SendFriendRequest(from, to string) (*models.User, error) {
	if from == to {
		return nil, ErrSelfRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getUser("friend request", from); err != nil {
		return nil, err
	}
	target, err := s.getUser("friend request", to)
	if err != nil {
		return nil, err
	}
	if contains(target.Friends, from) {
		return nil, ErrAlreadyFriends
	}
	if contains(target.Requests, from) {
		return nil, ErrAlreadyRequested
	}

	target.Requests = append(target.Requests, from)
	if err := s.store.SaveUsers(target); err != nil {
		return nil, s.unavailable("friend request", err)
	}
	s.log.Info("friend request sent", "from", from, "to", to)
	return target, nil
}

// ResolveFriendRequest settles the request requester → target.
//
// Both directions of the request are removed from the pending sets, and on
// Accept the symmetric friend edge is added; all of it is persisted in one
// write. The requester's record is returned.
func (s *Service) ResolveFriendRequest(target, requester string, outcome Outcome) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getUser("resolve request", target)
	if err != nil {
		return nil, err
	}
	r, err := s.getUser("resolve request", requester)
	if err != nil {
		return nil, err
	}
	if !contains(t.Requests, requester) {
		return nil, ErrRequestNotFound
	}

	t.Requests = without(t.Requests, requester)
	r.Requests = without(r.Requests, target)
	if outcome == Accept {
		if !contains(t.Friends, requester) {
			t.Friends = append(t.Friends, requester)
		}
		if !contains(r.Friends, target) {
			r.Friends = append(r.Friends, target)
		}
	}

	if err := s.store.SaveUsers(t, r); err != nil {
		return nil, s.unavailable("resolve request", err)
	}
	s.log.Info("friend request resolved", "target", target, "requester", requester, "outcome", outcome.String())
	return r, nil
}

func (s *Service) AcceptFriendRequest(target, requester string) (*models.User, error) {
	return s.ResolveFriendRequest(target, requester, Accept)
}

func (s *Service) RejectFriendRequest(target, requester string) (*models.User, error) {
	return s.ResolveFriendRequest(target, requester, Reject)
}

// RemoveFriend removes the symmetric friend edge between a and b.
func (s *Service) RemoveFriend(a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ua, err := s.getUser("remove friend", a)
	if err != nil {
		return err
	}
	ub, err := s.getUser("remove friend", b)
	if err != nil {
		return err
	}
	if !contains(ua.Friends, b) && !contains(ub.Friends, a) {
		return ErrNotFriends
	}

	ua.Friends = without(ua.Friends, b)
	ub.Friends = without(ub.Friends, a)
	if err := s.store.SaveUsers(ua, ub); err != nil {
		return s.unavailable("remove friend", err)
	}
	s.log.Info("friend removed", "user", a, "friend", b)
	return nil
}

// PendingRequests lists the requests waiting for id, skipping requesters
// that no longer exist.
func (s *Service) PendingRequests(id string) ([]models.FriendRequest, error) {
	u, err := s.getUser("pending requests", id)
	if err != nil {
		return nil, err
	}
	out := make([]models.FriendRequest, 0, len(u.Requests))
	for _, rid := range u.Requests {
		r, err := s.getUser("pending requests", rid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.FriendRequest{FromUserID: r.ID, FromUsername: r.Username})
	}
	return out, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
