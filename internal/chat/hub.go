package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// eventChannel is the Redis pub/sub channel carrying fan-out
// envelopes between server processes.
const eventChannel = "chat-events"

// Hub owns all process-local connection state: the connection
// registry, per-conversation channel membership and per-connection
// presence/unread tracking. The maps are never shared across
// processes; cross-process fan-out rides on Redis pub/sub and every
// process applies an envelope against its own local connections.
type Hub struct {
	mu sync.RWMutex

	// connID -> client
	clients map[string]*Client
	// userID -> connID -> client (online ⇔ entry exists)
	userConns map[int]map[string]*Client
	// conversationID -> connID -> client; created on first join,
	// removed when empty
	channels map[int]map[string]*Client

	rdb      *redis.Client
	debounce *debouncer
}

// NewHub creates a hub. A nil Redis client keeps fan-out in-process,
// which is how the tests drive it.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		userConns: make(map[int]map[string]*Client),
		channels:  make(map[int]map[string]*Client),
		rdb:       rdb,
		debounce:  newDebouncer(),
	}
}

// Run sweeps the completion debouncer. Blocks; run it in a goroutine.
func (h *Hub) Run() {
	h.debounce.sweepLoop()
}

// SubscribeToRedis feeds envelopes published by any process (this one
// included) into local delivery. Blocks; run it in a goroutine.
func (h *Hub) SubscribeToRedis() {
	pubsub := h.rdb.Subscribe(context.Background(), eventChannel)
	ch := pubsub.Channel()

	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("⚠️ Dropping malformed event envelope: %v", err)
			continue
		}
		h.deliver(&env)
	}
}

// emit routes an envelope through Redis so every process (including
// this one, via its own subscription) delivers it locally. Without
// Redis, or when the publish fails, delivery happens in-process so a
// broker outage degrades reach, not local correctness.
func (h *Hub) emit(env *envelope) {
	if h.rdb == nil {
		h.deliver(env)
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("⚠️ Marshal envelope failed: %v", err)
		return
	}
	if err := h.rdb.Publish(context.Background(), eventChannel, payload).Err(); err != nil {
		log.Printf("⚠️ Redis publish failed, delivering locally only: %v", err)
		h.deliver(env)
	}
}

// ---------------------------------------------
// 🔌 Connection Registry
// ---------------------------------------------

// Register adds an authenticated connection to the registry with an
// empty unread set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.ID] = c
	if _, ok := h.userConns[c.UserID]; !ok {
		h.userConns[c.UserID] = make(map[string]*Client)
	}
	h.userConns[c.UserID][c.ID] = c
}

// Unregister removes a connection on disconnect, whatever the reason:
// drops it from the user's set (removing the user entry if now
// empty), clears the viewing pointer and unread set, and leaves every
// joined channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)

	delete(h.clients, c.ID)
	if conns, ok := h.userConns[c.UserID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.userConns, c.UserID)
		}
	}
	for convID := range c.channels {
		h.leaveChannelLocked(c, convID)
	}
	c.viewing = 0
	c.unread = make(map[int]bool)
}

// ConnectionsForUser returns the ids of the user's live connections.
func (h *Hub) ConnectionsForUser(userID int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.userConns[userID]
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	return ids
}

// UserForConnection resolves a connection id back to its owner.
func (h *Hub) UserForConnection(connID string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[connID]
	if !ok {
		return 0, false
	}
	return c.UserID, true
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userID]) > 0
}

// ---------------------------------------------
// 📡 Channel Membership
// ---------------------------------------------

// Join idempotently adds the connection to a conversation's channel
// and acknowledges with the id.
func (h *Hub) Join(c *Client, conversationID int) error {
	if conversationID == 0 {
		return &ValidationError{Reason: "conversation id is required"}
	}

	h.mu.Lock()
	if !c.closed {
		if _, ok := h.channels[conversationID]; !ok {
			h.channels[conversationID] = make(map[string]*Client)
		}
		h.channels[conversationID][c.ID] = c
		c.channels[conversationID] = true
	}
	h.mu.Unlock()

	c.sendEvent(newEvent(EventConversationJoined, joinedPayload{ConversationID: conversationID}))
	return nil
}

// Leave idempotently removes the connection from a channel,
// acknowledged symmetrically to Join.
func (h *Hub) Leave(c *Client, conversationID int) error {
	if conversationID == 0 {
		return &ValidationError{Reason: "conversation id is required"}
	}

	h.mu.Lock()
	h.leaveChannelLocked(c, conversationID)
	h.mu.Unlock()

	c.sendEvent(newEvent(EventConversationLeft, joinedPayload{ConversationID: conversationID}))
	return nil
}

func (h *Hub) leaveChannelLocked(c *Client, conversationID int) {
	if members, ok := h.channels[conversationID]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.channels, conversationID)
		}
	}
	delete(c.channels, conversationID)
}

// UsersInConversation returns the distinct user ids with at least one
// member connection in the channel.
func (h *Hub) UsersInConversation(conversationID int) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[int]bool)
	var users []int
	for _, c := range h.channels[conversationID] {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			users = append(users, c.UserID)
		}
	}
	return users
}

// ---------------------------------------------
// 👀 Presence / Unread Tracking
// ---------------------------------------------

// MarkViewed sets the connection's viewing pointer and clears the
// conversation from its unread set. Other connections of the same
// user are unaffected.
func (h *Hub) MarkViewed(c *Client, conversationID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.viewing = conversationID
	delete(c.unread, conversationID)
}

// MarkUnread flags the conversation unread unless the connection is
// currently viewing it.
func (h *Hub) MarkUnread(c *Client, conversationID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.viewing == conversationID {
		return
	}
	c.unread[conversationID] = true
}

// LeaveView clears the viewing pointer.
func (h *Hub) LeaveView(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.viewing = 0
}

// Viewing reports the connection's current viewing pointer (0 = none).
func (h *Hub) Viewing(c *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.viewing
}

// HasUnread reports whether the connection has the conversation in
// its unread set.
func (h *Hub) HasUnread(c *Client, conversationID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.unread[conversationID]
}

// ---------------------------------------------
// 📣 Local Delivery (fan-out + dedup + unread)
// ---------------------------------------------

// deliver applies one envelope against local state. The dedup
// contract: every other live session of the sending user and every
// other channel member receives exactly one copy — channel first
// (minus the sender), then the residual same-user connections.
func (h *Hub) deliver(env *envelope) {
	if env.DedupeKey != "" && !h.debounce.first(env.DedupeKey) {
		return
	}

	raw := env.Event.encode()

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := make(map[string]bool)

	// Phase 1: the conversation's channel, excluding the sender
	// unless the event explicitly echoes (typing).
	if env.ConversationID != 0 {
		for id, c := range h.channels[env.ConversationID] {
			if id == env.SourceConnID && !env.IncludeSender {
				continue
			}
			h.push(c, raw)
			delivered[id] = true
		}
	}

	// Phase 2: the sending user's connections that are neither the
	// sender nor already channel members.
	if env.Residual && env.UserID != 0 {
		for id, c := range h.userConns[env.UserID] {
			if id == env.SourceConnID || delivered[id] {
				continue
			}
			h.push(c, raw)
			delivered[id] = true
		}
	}

	// The sender's own direct copy (completion events).
	if env.SenderCopy && !delivered[env.SourceConnID] {
		if c, ok := h.clients[env.SourceConnID]; ok {
			h.push(c, raw)
		}
	}

	// New-message events flip the unread flag on the sending user's
	// other connections that are not currently viewing the
	// conversation, and push them a status update.
	if env.TrackUnread && env.UserID != 0 {
		for id, c := range h.userConns[env.UserID] {
			if id == env.SourceConnID || c.viewing == env.ConversationID {
				continue
			}
			c.unread[env.ConversationID] = true
			h.push(c, newEvent(EventUnreadStatus, unreadStatusPayload{
				ConversationID:     env.ConversationID,
				HasUnread:          true,
				SourceConnectionID: env.SourceConnID,
			}).encode())
		}
	}
}

// push queues a message without blocking. A connection whose send
// buffer is full is dropped, same as the classic hub pattern.
func (h *Hub) push(c *Client, msg []byte) {
	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
		h.removeLocked(c)
	}
}
