// Package relay forwards WebRTC negotiation messages between two online users.
//
// Payloads are opaque: the relay never decodes offers, answers or ICE
// candidates. Ordering between one sender and one target follows from each
// connection having a single inbound handler and a single outbound queue.
package relay

import (
	"encoding/json"
	"errors"
	"log/slog"

	"redskord/presence"
	"redskord/protocol"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrUnknownKind      = errors.New("unknown signal type")
	ErrTargetOffline    = errors.New("target is offline")
	ErrEmptyPayload     = errors.New("empty signal payload")
)

type Relay struct {
	presence *presence.Registry
	log      *slog.Logger

	// Relayed is called after every attempt with the signal kind and the
	// result; it may be nil.
	Relayed func(kind string, err error)
}

func New(registry *presence.Registry, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{presence: registry, log: log}
}

// Relay sends payload from the user bound to from to the user toID as a
// packet of the given kind. roomID is passed through for the client's benefit.
func (r *Relay) Relay(from presence.Conn, kind, toID, roomID string, payload json.RawMessage) error {
	err := r.relay(from, kind, toID, roomID, payload)
	if r.Relayed != nil {
		r.Relayed(kind, err)
	}
	return err
}

func (r *Relay) relay(from presence.Conn, kind, toID, roomID string, payload json.RawMessage) error {
	sender, ok := r.presence.IdentityFor(from)
	if !ok {
		return ErrNotAuthenticated
	}
	if !protocol.IsSignal(kind) {
		return ErrUnknownKind
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	target, ok := r.presence.ConnFor(toID)
	if !ok {
		r.log.Debug("signal target offline", "kind", kind, "from", sender, "to", toID)
		return ErrTargetOffline
	}

	pkt, err := protocol.NewPacket(kind, protocol.Signal{
		From:    sender,
		RoomID:  roomID,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	if err := target.Send(pkt); err != nil {
		// The target is going away; its disconnect tears the call down.
		r.log.Debug("signal dropped", "kind", kind, "to", toID, "error", err)
		return ErrTargetOffline
	}
	return nil
}
