package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrInvalidPacket = errors.New("invalid packet format")
)

// Inbound packet types
const (
	TypePing                = "ping"
	TypeBye                 = "bye"
	TypeAuthenticate        = "authenticate"
	TypeCallUser            = "callUser"
	TypeAnswerCall          = "answerCall"
	TypeRejectCall          = "rejectCall"
	TypeEndCall             = "endCall"
	TypeSendMessage         = "sendMessage"
	TypeGetMessages         = "getMessages"
	TypeSendPrivateMessage  = "sendPrivateMessage"
	TypeGetPrivateMessages  = "getPrivateMessages"
	TypeSendFriendRequest   = "sendFriendRequest"
	TypeAcceptFriendRequest = "acceptFriendRequest"
	TypeRejectFriendRequest = "rejectFriendRequest"
	TypeRemoveFriend        = "removeFriend"
	TypeGetUsers            = "getUsers"
)

// Signaling packet types, used in both directions
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice-candidate"
)

// Outbound packet types
const (
	TypePong                   = "pong"
	TypeError                  = "error"
	TypeAuthenticated          = "authenticated"
	TypeAuthError              = "authError"
	TypeFriendsOnline          = "friendsOnline"
	TypePresenceChanged        = "presenceChanged"
	TypeUserList               = "userList"
	TypeIncomingCall           = "incomingCall"
	TypeCallStarted            = "callStarted"
	TypeCallAnswered           = "callAnswered"
	TypeCallRejected           = "callRejected"
	TypeCallEnded              = "callEnded"
	TypeCallError              = "callError"
	TypeNewMessage             = "newMessage"
	TypeMessageHistory         = "messageHistory"
	TypePrivateMessage         = "privateMessage"
	TypePrivateMessagesHistory = "privateMessagesHistory"
	TypeFriendRequest          = "friendRequest"
	TypeFriendRequestSent      = "friendRequestSent"
	TypeFriendAdded            = "friendAdded"
	TypeFriendRequestsUpdated  = "friendRequestsUpdated"
	TypeFriendRequestError     = "friendRequestError"
	TypeFriendRemoved          = "friendRemoved"
	TypeUserLeft               = "userLeft"
)

// IsSignal reports whether t is one of the relayed WebRTC negotiation types.
func IsSignal(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeIceCandidate:
		return true
	}
	return false
}

// Packet is one websocket frame: {"type": "...", "data": {...}}.
// Data is kept raw so handlers decode only what they need.
type Packet struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func ParsePacket(frame []byte) (*Packet, error) {
	var pkt Packet
	if err := json.Unmarshal(frame, &pkt); err != nil {
		return nil, ErrInvalidPacket
	}
	pkt.Type = strings.TrimSpace(pkt.Type)
	if pkt.Type == "" {
		return nil, ErrInvalidPacket
	}
	return &pkt, nil
}

// Decode unmarshals the packet data into v. A packet without data leaves v untouched.
func (p *Packet) Decode(v any) error {
	if len(p.Data) == 0 || string(p.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return ErrInvalidPacket
	}
	return nil
}

// NewPacket builds an outbound packet. data may be nil.
func NewPacket(pktType string, data any) (*Packet, error) {
	pkt := &Packet{Type: pktType}
	if data == nil {
		return pkt, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	pkt.Data = raw
	return pkt, nil
}

// MustPacket is NewPacket for payloads that are known to marshal.
func MustPacket(pktType string, data any) *Packet {
	pkt, err := NewPacket(pktType, data)
	if err != nil {
		panic(err)
	}
	return pkt
}

func FormatPacket(pkt *Packet) ([]byte, error) {
	return json.Marshal(pkt)
}

// Failure is the data of every typed rejection (error, authError, callError, ...).
type Failure struct {
	Op    string `json:"op,omitempty"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Bye is sent before the server closes a connection.
type Bye struct {
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

// Signal is the data of inbound and outbound offer/answer/ice-candidate packets.
// Payload is forwarded verbatim and never decoded by the server.
type Signal struct {
	Target  string          `json:"target,omitempty"`
	From    string          `json:"from,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}
