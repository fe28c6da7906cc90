package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type recordingConn struct {
	subjects []string
	payloads [][]byte
	fail     error
	drained  bool
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *recordingConn) Drain() error {
	c.drained = true
	return nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNATSPublishesJSONOnPrefixedSubject(t *testing.T) {
	rc := &recordingConn{}
	p := newNATS(rc, "redskord.events", quiet())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), TopicCall, CallEvent{
		RoomID: "r1", CallerID: "a", CalleeID: "b", Kind: "voice", State: "ended", Reason: "hangup", At: at,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(rc.subjects) != 1 || rc.subjects[0] != "redskord.events.call" {
		t.Fatalf("subjects = %v", rc.subjects)
	}

	var got CallEvent
	if err := json.Unmarshal(rc.payloads[0], &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.RoomID != "r1" || got.Reason != "hangup" || !got.At.Equal(at) {
		t.Errorf("decoded event = %+v", got)
	}

	p.Close()
	if !rc.drained {
		t.Error("Close did not drain the connection")
	}
}

func TestNATSSubjectWithoutPrefix(t *testing.T) {
	p := newNATS(&recordingConn{}, "", quiet())
	if got := p.Subject(TopicPresence); got != "presence" {
		t.Errorf("Subject = %q", got)
	}
}

func TestNATSPublishErrors(t *testing.T) {
	boom := errors.New("connection closed")
	p := newNATS(&recordingConn{fail: boom}, "x", quiet())
	if err := p.Publish(context.Background(), TopicPresence, PresenceEvent{UserID: "a"}); !errors.Is(err, boom) {
		t.Errorf("expected broker error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, TopicPresence, PresenceEvent{UserID: "a"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if err := p.Publish(context.Background(), TopicPresence, func() {}); err == nil {
		t.Error("expected an encoding error")
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), TopicCall, nil); err != nil {
		t.Errorf("Nop.Publish = %v", err)
	}
	p.Close()
}
