// Package call owns the lifecycle of two-party call rooms.
//
// A room goes Ringing → Answered → Ended, or Ringing → Rejected; Ended and
// Rejected are terminal and the room is dropped the moment it reaches
// either. All room state lives behind one mutex, and notifications are only
// sent once it is released.
//
// Lock order is Manager.mu before the presence registry's lock. CreateRoom
// resolves both parties under Manager.mu, so a disconnect that unregisters a
// party and then calls CleanupFor can never leave a room behind.
package call

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"redskord/models"
	"redskord/presence"
	"redskord/protocol"
)

var (
	ErrCalleeOffline  = errors.New("callee is offline")
	ErrCallerOffline  = errors.New("caller is offline")
	ErrRoomExists     = errors.New("room already exists")
	ErrRoomNotFound   = errors.New("room not found")
	ErrSelfCall       = errors.New("cannot call yourself")
	ErrInvalidKind    = errors.New("invalid call type")
	ErrNotCallee      = errors.New("only the callee may do this")
	ErrNotParticipant = errors.New("not a participant of this room")
	ErrNotRinging     = errors.New("call is not ringing")
)

type Kind string

const (
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

// ParseKind validates a call type. An empty string means video.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindVideo, nil
	case KindVoice, KindVideo:
		return Kind(s), nil
	}
	return "", ErrInvalidKind
}

type State int

const (
	Ringing State = iota
	Answered
	Rejected
	Ended
)

func (s State) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Answered:
		return "answered"
	case Rejected:
		return "rejected"
	case Ended:
		return "ended"
	}
	return "unknown"
}

// Reasons reported in callEnded and to the Ended hook.
const (
	ReasonHangup           = "hangup"
	ReasonRejected         = "rejected"
	ReasonPeerDisconnected = "peer_disconnected"
	ReasonShutdown         = "shutdown"
)

// Room is a snapshot of one call.
type Room struct {
	ID         string
	CallerID   string
	CallerName string
	CalleeID   string
	Kind       Kind
	State      State
	CreatedAt  time.Time

	callerConn presence.Conn
	calleeConn presence.Conn
}

// Hooks are invoked after a room starts or finishes, outside the manager lock.
type Hooks struct {
	Started func(r Room)
	Ended   func(r Room, reason string)
}

type IncomingCall struct {
	RoomID     string `json:"roomId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	CallType   Kind   `json:"callType"`
}

type CallStarted struct {
	RoomID       string `json:"roomId"`
	TargetUserID string `json:"targetUserId"`
	CallType     Kind   `json:"callType"`
}

type CallAnswered struct {
	RoomID     string `json:"roomId"`
	AnswererID string `json:"answererId"`
}

type CallRejected struct {
	RoomID string `json:"roomId"`
}

type CallEnded struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type Manager struct {
	presence *presence.Registry
	log      *slog.Logger
	hooks    Hooks

	mu     sync.RWMutex
	rooms  map[string]*Room
	byUser map[string]map[string]struct{} // user id → room ids
}

func New(registry *presence.Registry, log *slog.Logger, hooks Hooks) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		presence: registry,
		log:      log,
		hooks:    hooks,
		rooms:    make(map[string]*Room),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// delivery is a packet bound for one connection, sent once the lock is released.
type delivery struct {
	conn presence.Conn
	pkt  *protocol.Packet
}

func (m *Manager) deliver(out []delivery) {
	for _, d := range out {
		if d.conn == nil {
			continue
		}
		if err := d.conn.Send(d.pkt); err != nil {
			m.log.Debug("call notification dropped", "conn", d.conn.ID(), "type", d.pkt.Type, "error", err)
		}
	}
}

func (m *Manager) index(r *Room) {
	for _, id := range []string{r.CallerID, r.CalleeID} {
		set, ok := m.byUser[id]
		if !ok {
			set = make(map[string]struct{})
			m.byUser[id] = set
		}
		set[r.ID] = struct{}{}
	}
}

// remove drops r from both maps. Caller holds m.mu.
func (m *Manager) remove(r *Room) {
	delete(m.rooms, r.ID)
	for _, id := range []string{r.CallerID, r.CalleeID} {
		if set, ok := m.byUser[id]; ok {
			delete(set, r.ID)
			if len(set) == 0 {
				delete(m.byUser, id)
			}
		}
	}
}

// CreateRoom rings calleeID on behalf of caller. roomID is an optional
// client-chosen token; when empty a fresh one is generated.
func (m *Manager) CreateRoom(caller models.Profile, calleeID string, kind Kind, roomID string) (string, error) {
	if caller.ID == calleeID {
		return "", ErrSelfCall
	}
	if kind == "" {
		kind = KindVideo
	}
	if kind != KindVoice && kind != KindVideo {
		return "", ErrInvalidKind
	}

	m.mu.Lock()
	callerConn, ok := m.presence.ConnFor(caller.ID)
	if !ok {
		m.mu.Unlock()
		return "", ErrCallerOffline
	}
	calleeConn, ok := m.presence.ConnFor(calleeID)
	if !ok {
		m.mu.Unlock()
		return "", ErrCalleeOffline
	}
	if roomID == "" {
		roomID = uuid.NewString()
	} else if _, exists := m.rooms[roomID]; exists {
		m.mu.Unlock()
		return "", ErrRoomExists
	}

	room := &Room{
		ID:         roomID,
		CallerID:   caller.ID,
		CallerName: caller.Username,
		CalleeID:   calleeID,
		Kind:       kind,
		State:      Ringing,
		CreatedAt:  time.Now(),
		callerConn: callerConn,
		calleeConn: calleeConn,
	}
	m.rooms[roomID] = room
	m.index(room)
	snapshot := *room
	m.mu.Unlock()

	m.deliver([]delivery{
		{calleeConn, protocol.MustPacket(protocol.TypeIncomingCall, IncomingCall{
			RoomID:     roomID,
			CallerID:   caller.ID,
			CallerName: caller.Username,
			CallType:   kind,
		})},
		{callerConn, protocol.MustPacket(protocol.TypeCallStarted, CallStarted{
			RoomID:       roomID,
			TargetUserID: calleeID,
			CallType:     kind,
		})},
	})
	m.log.Info("call ringing", "room", roomID, "caller", caller.ID, "callee", calleeID, "kind", kind)
	if m.hooks.Started != nil {
		m.hooks.Started(snapshot)
	}
	return roomID, nil
}

// calleeRoom returns the ringing room roomID if conn is its callee. Caller holds m.mu.
func (m *Manager) calleeRoom(roomID string, conn presence.Conn) (*Room, error) {
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if conn == nil || room.calleeConn.ID() != conn.ID() {
		return nil, ErrNotCallee
	}
	if room.State != Ringing {
		return nil, ErrNotRinging
	}
	return room, nil
}

func (m *Manager) Answer(roomID string, conn presence.Conn) error {
	m.mu.Lock()
	room, err := m.calleeRoom(roomID, conn)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	room.State = Answered
	callerConn, calleeID := room.callerConn, room.CalleeID
	m.mu.Unlock()

	m.deliver([]delivery{{callerConn, protocol.MustPacket(protocol.TypeCallAnswered, CallAnswered{
		RoomID:     roomID,
		AnswererID: calleeID,
	})}})
	m.log.Info("call answered", "room", roomID)
	return nil
}

func (m *Manager) Reject(roomID string, conn presence.Conn) error {
	m.mu.Lock()
	room, err := m.calleeRoom(roomID, conn)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	room.State = Rejected
	m.remove(room)
	snapshot := *room
	m.mu.Unlock()

	m.deliver([]delivery{{snapshot.callerConn, protocol.MustPacket(protocol.TypeCallRejected, CallRejected{RoomID: roomID})}})
	m.log.Info("call rejected", "room", roomID)
	m.ended(snapshot, ReasonRejected)
	return nil
}

// End hangs up roomID. A nil conn is a hangup by the server itself;
// otherwise conn must belong to one of the participants.
func (m *Manager) End(roomID string, conn presence.Conn) error {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return ErrRoomNotFound
	}
	if conn != nil && room.callerConn.ID() != conn.ID() && room.calleeConn.ID() != conn.ID() {
		m.mu.Unlock()
		return ErrNotParticipant
	}
	room.State = Ended
	m.remove(room)
	snapshot := *room
	m.mu.Unlock()

	m.deliver(endedFor(snapshot, ReasonHangup, snapshot.callerConn, snapshot.calleeConn))
	m.log.Info("call ended", "room", roomID, "reason", ReasonHangup)
	m.ended(snapshot, ReasonHangup)
	return nil
}

// CleanupFor ends every room that names userID after the user went away.
// Only the counterpart is told, once per room. The ended room ids are returned.
func (m *Manager) CleanupFor(userID string) []string {
	return m.cleanup(userID, func(*Room) bool { return true })
}

// CleanupConn is CleanupFor restricted to rooms where userID participates
// through conn. It is used when conn was evicted by a newer login.
func (m *Manager) CleanupConn(userID string, conn presence.Conn) []string {
	return m.cleanup(userID, func(r *Room) bool {
		if r.CallerID == userID {
			return r.callerConn.ID() == conn.ID()
		}
		return r.calleeConn.ID() == conn.ID()
	})
}

func (m *Manager) cleanup(userID string, match func(*Room) bool) []string {
	m.mu.Lock()
	var ended []Room
	for id := range m.byUser[userID] {
		room := m.rooms[id]
		if room == nil || !match(room) {
			continue
		}
		room.State = Ended
		m.remove(room)
		ended = append(ended, *room)
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(ended))
	for _, r := range ended {
		peer := r.calleeConn
		if r.CalleeID == userID {
			peer = r.callerConn
		}
		m.deliver(endedFor(r, ReasonPeerDisconnected, peer))
		m.log.Info("call ended", "room", r.ID, "reason", ReasonPeerDisconnected, "user", userID)
		m.ended(r, ReasonPeerDisconnected)
		ids = append(ids, r.ID)
	}
	return ids
}

// Close ends every room and tells both sides the server is going away.
func (m *Manager) Close() int {
	m.mu.Lock()
	rooms := make([]Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		room.State = Ended
		rooms = append(rooms, *room)
	}
	m.rooms = make(map[string]*Room)
	m.byUser = make(map[string]map[string]struct{})
	m.mu.Unlock()

	for _, r := range rooms {
		m.deliver(endedFor(r, ReasonShutdown, r.callerConn, r.calleeConn))
		m.ended(r, ReasonShutdown)
	}
	return len(rooms)
}

func (m *Manager) Room(roomID string) (Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return *room, true
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Manager) ended(r Room, reason string) {
	if m.hooks.Ended != nil {
		m.hooks.Ended(r, reason)
	}
}

func endedFor(r Room, reason string, conns ...presence.Conn) []delivery {
	pkt := protocol.MustPacket(protocol.TypeCallEnded, CallEnded{RoomID: r.ID, Reason: reason})
	out := make([]delivery, 0, len(conns))
	for _, c := range conns {
		out = append(out, delivery{c, pkt})
	}
	return out
}
