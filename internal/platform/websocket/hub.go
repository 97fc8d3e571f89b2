// Package websocket pushes refresh triggers and query results to browser
// clients. Connections are grouped by user email; a push addressed to a
// group reaches every connection of that user on this instance.
package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	sendBuffer = 256
	pushBuffer = 64
)

// Push is a server-side message addressed to a group. Action names the
// refresh the client should receive; Data is forwarded verbatim otherwise.
type Push struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Broker delivers a push to a group, possibly across instances.
type Broker interface {
	Publish(ctx context.Context, group string, push Push) error
}

// GroupName returns the group for an email address.
func GroupName(email string) string {
	r := strings.NewReplacer("@", "_", ".", "_")
	return "user_" + r.Replace(strings.ToLower(email))
}

// Client is one WebSocket connection.
type Client struct {
	ID    string
	Email string
	Group string

	send chan []byte
	push chan Push
}

// NewClient creates a client for the given email with a fresh channel id.
func NewClient(email string) *Client {
	email = strings.ToLower(email)
	return &Client{
		ID:    uuid.NewString(),
		Email: email,
		Group: GroupName(email),
		send:  make(chan []byte, sendBuffer),
		push:  make(chan Push, pushBuffer),
	}
}

// Enqueue queues an outgoing frame. A full buffer drops the frame.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Hub tracks the local members of each group.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	all    map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
	}
}

// Join adds the client to its group.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[c] = struct{}{}
	if h.groups[c.Group] == nil {
		h.groups[c.Group] = make(map[*Client]struct{})
	}
	h.groups[c.Group][c] = struct{}{}
}

// Leave removes the client and closes its channels. Leaving twice is a no-op.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	if members, ok := h.groups[c.Group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, c.Group)
		}
	}
	delete(h.all, c)
	close(c.push)
	close(c.send)
}

// Deliver hands the push to every local member of the group and returns the
// number of members that accepted it.
func (h *Hub) Deliver(group string, push Push) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.groups[group] {
		select {
		case c.push <- push:
			n++
		default:
		}
	}
	return n
}

// Publish implements Broker for single-instance deployments.
func (h *Hub) Publish(_ context.Context, group string, push Push) error {
	h.Deliver(group, push)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
