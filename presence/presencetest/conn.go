// Package presencetest provides a recording presence.Conn for tests.
package presencetest

import (
	"encoding/json"
	"errors"
	"sync"

	"redskord/protocol"
)

var ErrClosed = errors.New("connection closed")

// Conn records every packet sent to it.
type Conn struct {
	id string

	mu      sync.Mutex
	packets []*protocol.Packet
	closed  bool
}

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(pkt *protocol.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.packets = append(c.packets, pkt)
	return nil
}

// Close makes subsequent sends fail, like a transport that went away.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Packets() []*protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Packet, len(c.packets))
	copy(out, c.packets)
	return out
}

func (c *Conn) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.packets))
	for _, p := range c.packets {
		types = append(types, p.Type)
	}
	return types
}

// Count returns how many packets of type t were received.
func (c *Conn) Count(t string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.packets {
		if p.Type == t {
			n++
		}
	}
	return n
}

// Last decodes the data of the most recent packet of type t into v.
func (c *Conn) Last(t string, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.packets) - 1; i >= 0; i-- {
		if c.packets[i].Type != t {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(c.packets[i].Data, v); err != nil {
				return false
			}
		}
		return true
	}
	return false
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.packets = nil
	c.mu.Unlock()
}
