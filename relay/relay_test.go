package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"redskord/presence"
	"redskord/presence/presencetest"
	"redskord/protocol"
)

func setupRelay(t *testing.T) (*Relay, *presence.Registry, *presencetest.Conn, *presencetest.Conn) {
	t.Helper()
	reg := presence.New(0)
	a := presencetest.NewConn("conn-a")
	b := presencetest.NewConn("conn-b")
	reg.Register("a", a)
	reg.Register("b", b)
	return New(reg, nil), reg, a, b
}

func TestRelayForwardsPayloadVerbatim(t *testing.T) {
	r, _, a, b := setupRelay(t)
	payload := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 4611 2 IN IP4 127.0.0.1\r\n"}`)

	if err := r.Relay(a, protocol.TypeOffer, "b", "room-1", payload); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	pkts := b.Packets()
	if len(pkts) != 1 || pkts[0].Type != protocol.TypeOffer {
		t.Fatalf("target got %v", b.Types())
	}
	var sig protocol.Signal
	if err := pkts[0].Decode(&sig); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if sig.From != "a" || sig.RoomID != "room-1" {
		t.Errorf("signal = %+v", sig)
	}
	if string(sig.Payload) != string(payload) {
		t.Errorf("payload altered:\n got %s\nwant %s", sig.Payload, payload)
	}
	if len(a.Packets()) != 0 {
		t.Error("sender received its own signal")
	}
}

func TestRelayDirectionality(t *testing.T) {
	r, _, a, b := setupRelay(t)

	if err := r.Relay(b, protocol.TypeAnswer, "a", "", json.RawMessage(`{"sdp":"x"}`)); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	var sig protocol.Signal
	if !a.Last(protocol.TypeAnswer, &sig) || sig.From != "b" {
		t.Errorf("answer = %+v", sig)
	}
	if len(b.Packets()) != 0 {
		t.Error("answer echoed to its sender")
	}
}

func TestRelayErrors(t *testing.T) {
	r, reg, a, b := setupRelay(t)
	payload := json.RawMessage(`{"candidate":"c"}`)

	stranger := presencetest.NewConn("conn-x")
	if err := r.Relay(stranger, protocol.TypeOffer, "b", "", payload); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
	if err := r.Relay(a, "bye", "b", "", payload); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if err := r.Relay(a, protocol.TypeOffer, "b", "", nil); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("expected ErrEmptyPayload, got %v", err)
	}

	reg.Unregister(b)
	if err := r.Relay(a, protocol.TypeIceCandidate, "b", "", payload); !errors.Is(err, ErrTargetOffline) {
		t.Errorf("expected ErrTargetOffline, got %v", err)
	}
	if len(b.Packets()) != 0 || len(a.Packets()) != 0 {
		t.Error("failed relay produced outbound packets")
	}
}

func TestRelayClosedTargetIsOffline(t *testing.T) {
	r, _, a, b := setupRelay(t)
	b.Close()

	err := r.Relay(a, protocol.TypeOffer, "b", "", json.RawMessage(`{}`))
	if !errors.Is(err, ErrTargetOffline) {
		t.Errorf("expected ErrTargetOffline, got %v", err)
	}
}

func TestRelayPreservesOrder(t *testing.T) {
	r, _, a, b := setupRelay(t)

	for i := 0; i < 20; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))
		if err := r.Relay(a, protocol.TypeIceCandidate, "b", "", payload); err != nil {
			t.Fatalf("Relay %d: %v", i, err)
		}
	}
	for i, pkt := range b.Packets() {
		var sig protocol.Signal
		pkt.Decode(&sig)
		if want := fmt.Sprintf(`{"seq":%d}`, i); string(sig.Payload) != want {
			t.Fatalf("packet %d payload %s, want %s", i, sig.Payload, want)
		}
	}
}

func TestRelayedHook(t *testing.T) {
	r, _, a, _ := setupRelay(t)
	var got []string
	r.Relayed = func(kind string, err error) {
		got = append(got, fmt.Sprintf("%s:%v", kind, err == nil))
	}

	r.Relay(a, protocol.TypeOffer, "b", "", json.RawMessage(`{}`))
	r.Relay(a, protocol.TypeOffer, "nobody", "", json.RawMessage(`{}`))

	if len(got) != 2 || got[0] != "offer:true" || got[1] != "offer:false" {
		t.Errorf("hook calls = %v", got)
	}
}
