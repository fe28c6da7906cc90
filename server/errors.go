package server

import (
	"errors"

	"redskord/auth"
	"redskord/call"
	"redskord/directory"
	"redskord/presence"
	"redskord/protocol"
	"redskord/relay"
)

var errNotAuthenticated = errors.New("not authenticated")

// errorCodes maps sentinel errors to the stable codes clients switch on.
var errorCodes = []struct {
	err  error
	code string
}{
	{errNotAuthenticated, "not_authenticated"},
	{relay.ErrNotAuthenticated, "not_authenticated"},
	{protocol.ErrInvalidPacket, "invalid_packet"},
	{presence.ErrServerFull, "server_full"},
	{auth.ErrInvalidToken, "invalid_token"},
	{auth.ErrExpiredToken, "token_expired"},

	{directory.ErrNotFound, "not_found"},
	{directory.ErrRequestNotFound, "request_not_found"},
	{directory.ErrAlreadyRequested, "already_requested"},
	{directory.ErrAlreadyFriends, "already_friends"},
	{directory.ErrNotFriends, "not_friends"},
	{directory.ErrSelfRequest, "self_request"},
	{directory.ErrUsernameTaken, "username_taken"},
	{directory.ErrWrongPassword, "wrong_password"},
	{directory.ErrInvalidInput, "invalid_input"},
	{directory.ErrUnavailable, "unavailable"},

	{call.ErrCalleeOffline, "callee_offline"},
	{call.ErrCallerOffline, "caller_offline"},
	{call.ErrRoomExists, "room_exists"},
	{call.ErrRoomNotFound, "room_not_found"},
	{call.ErrSelfCall, "self_call"},
	{call.ErrInvalidKind, "invalid_kind"},
	{call.ErrNotCallee, "not_callee"},
	{call.ErrNotParticipant, "not_participant"},
	{call.ErrNotRinging, "not_ringing"},

	{relay.ErrUnknownKind, "unknown_kind"},
	{relay.ErrTargetOffline, "target_offline"},
	{relay.ErrEmptyPayload, "invalid_input"},
}

func errorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}

// failure builds the client-facing rejection for err. Internal causes are
// never echoed back.
func failure(op string, err error) protocol.Failure {
	code := errorCode(err)
	msg := err.Error()
	switch code {
	case "internal":
		msg = "internal error"
	case "unavailable":
		msg = "service temporarily unavailable"
	}
	return protocol.Failure{Op: op, Code: code, Error: msg}
}
