// Package presence keeps the bidirectional mapping between authenticated
// users and their live connection.
//
// A Registry is safe for concurrent use. Both indexes are mutated inside a
// single critical section, so for every user with an entry exactly one
// connection maps back to it and vice versa. The registry never sends
// anything; callers turn its results into notifications.
package presence

import (
	"errors"
	"sync"

	"redskord/protocol"
)

// DefaultMaxOnline is the online cap used when none is configured.
const DefaultMaxOnline = 20

var ErrServerFull = errors.New("server is full")

// Conn is one live transport session.
type Conn interface {
	ID() string
	Send(pkt *protocol.Packet) error
}

type Registry struct {
	mu        sync.RWMutex
	maxOnline int
	byUser    map[string]Conn   // user id → connection
	byConn    map[string]string // connection id → user id
}

func New(maxOnline int) *Registry {
	if maxOnline <= 0 {
		maxOnline = DefaultMaxOnline
	}
	return &Registry{
		maxOnline: maxOnline,
		byUser:    make(map[string]Conn),
		byConn:    make(map[string]string),
	}
}

// Register binds userID to conn.
//
// If userID is already online on another connection, that connection is
// evicted and returned; the caller is expected to close it and tear down
// its calls. If conn was bound to a different user, that binding is
// released first. ErrServerFull is returned when the cap of distinct online
// users is reached and userID is not one of them.
func (r *Registry) Register(userID string, conn Conn) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, online := r.byUser[userID]
	prevUser, bound := r.byConn[conn.ID()]
	if bound && prevUser == userID {
		return nil, nil
	}

	occupied := len(r.byUser)
	if bound {
		occupied--
	}
	if !online && occupied >= r.maxOnline {
		return nil, ErrServerFull
	}

	if bound {
		delete(r.byUser, prevUser)
		delete(r.byConn, conn.ID())
	}

	var evicted Conn
	if online {
		delete(r.byConn, current.ID())
		evicted = current
	}

	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID
	return evicted, nil
}

// Unregister removes the entry of conn and returns the freed user id.
// Unknown connections are a no-op.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())
	if cur, ok := r.byUser[userID]; ok && cur.ID() == conn.ID() {
		delete(r.byUser, userID)
	}
	return userID, true
}

func (r *Registry) ConnFor(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

func (r *Registry) IdentityFor(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[conn.ID()]
	return userID, ok
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) MaxOnline() int {
	return r.maxOnline
}

// Identities returns a snapshot of the online user ids.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}

// Conns returns a snapshot of the bound connections.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	return conns
}
