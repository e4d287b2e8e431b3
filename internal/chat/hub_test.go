package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, hub *Hub, userID int, username string) *Client {
	t.Helper()
	c := NewClient(hub, nil, nil, userID, username)
	hub.Register(c)
	return c
}

// drainEvents empties a client's send buffer without blocking.
func drainEvents(c *Client) []Event {
	var out []Event
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return out
			}
			var e Event
			if err := json.Unmarshal(raw, &e); err == nil {
				out = append(out, e)
			}
		default:
			return out
		}
	}
}

func countType(events []Event, eventType string) int {
	n := 0
	for _, e := range events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func TestRegisterAndUnregister(t *testing.T) {
	hub := NewHub(nil)
	c := newTestClient(t, hub, 1, "alice")

	assert.Contains(t, hub.ConnectionsForUser(1), c.ID)
	assert.True(t, hub.IsOnline(1))

	userID, ok := hub.UserForConnection(c.ID)
	require.True(t, ok)
	assert.Equal(t, 1, userID)

	hub.Unregister(c)

	assert.Empty(t, hub.ConnectionsForUser(1))
	assert.False(t, hub.IsOnline(1))
	_, ok = hub.UserForConnection(c.ID)
	assert.False(t, ok)
}

func TestUnregisterLeavesChannelsAndClearsState(t *testing.T) {
	hub := NewHub(nil)
	c := newTestClient(t, hub, 1, "alice")

	require.NoError(t, hub.Join(c, 7))
	hub.MarkViewed(c, 7)
	hub.MarkUnread(c, 9)

	hub.Unregister(c)

	assert.Empty(t, hub.UsersInConversation(7))
	assert.Empty(t, c.unread)
	assert.Zero(t, c.viewing)
}

func TestJoinRequiresConversationID(t *testing.T) {
	hub := NewHub(nil)
	c := newTestClient(t, hub, 1, "alice")

	err := hub.Join(c, 0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "conversation id is required", verr.Reason)
}

func TestJoinIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	c := newTestClient(t, hub, 1, "alice")

	require.NoError(t, hub.Join(c, 5))
	require.NoError(t, hub.Join(c, 5))

	assert.Len(t, hub.channels[5], 1)
	events := drainEvents(c)
	assert.Equal(t, 2, countType(events, EventConversationJoined))
}

func TestLeaveIsIdempotentAndDropsEmptyChannel(t *testing.T) {
	hub := NewHub(nil)
	c := newTestClient(t, hub, 1, "alice")

	require.NoError(t, hub.Join(c, 5))
	require.NoError(t, hub.Leave(c, 5))
	require.NoError(t, hub.Leave(c, 5))

	_, exists := hub.channels[5]
	assert.False(t, exists)
}

func TestUsersInConversationIsDistinct(t *testing.T) {
	hub := NewHub(nil)
	a1 := newTestClient(t, hub, 1, "alice")
	a2 := newTestClient(t, hub, 1, "alice")
	b := newTestClient(t, hub, 2, "bob")

	require.NoError(t, hub.Join(a1, 3))
	require.NoError(t, hub.Join(a2, 3))
	require.NoError(t, hub.Join(b, 3))

	users := hub.UsersInConversation(3)
	assert.ElementsMatch(t, []int{1, 2}, users)
}

func TestNewMessageDeduplication(t *testing.T) {
	// User 1 has connections A and B; A is in channel 9, B is not.
	// User 2's connection C is also a member.
	hub := NewHub(nil)
	a := newTestClient(t, hub, 1, "alice")
	b := newTestClient(t, hub, 1, "alice")
	c := newTestClient(t, hub, 2, "bob")

	require.NoError(t, hub.Join(a, 9))
	require.NoError(t, hub.Join(c, 9))
	drainEvents(a)
	drainEvents(b)
	drainEvents(c)

	msg := &Message{ID: 1, ConversationID: 9, Role: RoleUser, Content: "hi"}
	hub.NewMessage(9, 1, a.ID, msg, "corr-1")

	aEvents := drainEvents(a)
	bEvents := drainEvents(b)
	cEvents := drainEvents(c)

	assert.Zero(t, countType(aEvents, EventMessageNew), "sender must not receive its own message")
	assert.Equal(t, 1, countType(bEvents, EventMessageNew), "other session gets exactly one copy")
	assert.Equal(t, 1, countType(cEvents, EventMessageNew), "channel member gets exactly one copy")
}

func TestNewMessageResidualNotDoubled(t *testing.T) {
	// B is both a channel member and a same-user connection: phase 2
	// must not deliver a second copy.
	hub := NewHub(nil)
	a := newTestClient(t, hub, 1, "alice")
	b := newTestClient(t, hub, 1, "alice")

	require.NoError(t, hub.Join(a, 9))
	require.NoError(t, hub.Join(b, 9))
	drainEvents(a)
	drainEvents(b)

	msg := &Message{ID: 1, ConversationID: 9, Role: RoleUser, Content: "hi"}
	hub.NewMessage(9, 1, a.ID, msg, "corr-1")

	assert.Equal(t, 1, countType(drainEvents(b), EventMessageNew))
}

func TestViewedConnectionSkipsUnread(t *testing.T) {
	hub := NewHub(nil)
	sender := newTestClient(t, hub, 1, "alice")
	viewer := newTestClient(t, hub, 1, "alice")

	hub.MarkViewed(viewer, 4)

	msg := &Message{ID: 1, ConversationID: 4, Role: RoleUser, Content: "hi"}
	hub.NewMessage(4, 1, sender.ID, msg, "corr-1")

	assert.False(t, hub.HasUnread(viewer, 4))
	assert.Zero(t, countType(drainEvents(viewer), EventUnreadStatus))
}

func TestNonViewingConnectionGetsUnread(t *testing.T) {
	hub := NewHub(nil)
	sender := newTestClient(t, hub, 1, "alice")
	other := newTestClient(t, hub, 1, "alice")

	msg := &Message{ID: 1, ConversationID: 4, Role: RoleUser, Content: "hi"}
	hub.NewMessage(4, 1, sender.ID, msg, "corr-1")

	assert.True(t, hub.HasUnread(other, 4))

	events := drainEvents(other)
	require.Equal(t, 1, countType(events, EventUnreadStatus))
	for _, e := range events {
		if e.Type != EventUnreadStatus {
			continue
		}
		var p unreadStatusPayload
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		assert.Equal(t, 4, p.ConversationID)
		assert.True(t, p.HasUnread)
		assert.Equal(t, sender.ID, p.SourceConnectionID)
	}
}

func TestMarkViewedClearsUnread(t *testing.T) {
	hub := NewHub(nil)
	c := newTestClient(t, hub, 1, "alice")

	hub.MarkUnread(c, 4)
	require.True(t, hub.HasUnread(c, 4))

	hub.MarkViewed(c, 4)
	assert.False(t, hub.HasUnread(c, 4))
	assert.Equal(t, 4, hub.Viewing(c))

	hub.LeaveView(c)
	assert.Zero(t, hub.Viewing(c))
}

func TestMarkUnreadIsNoopWhileViewing(t *testing.T) {
	hub := NewHub(nil)
	c := newTestClient(t, hub, 1, "alice")

	hub.MarkViewed(c, 4)
	hub.MarkUnread(c, 4)
	assert.False(t, hub.HasUnread(c, 4))
}

func TestTypingIncludesSender(t *testing.T) {
	hub := NewHub(nil)
	a := newTestClient(t, hub, 1, "alice")
	b := newTestClient(t, hub, 2, "bob")

	require.NoError(t, hub.Join(a, 2))
	require.NoError(t, hub.Join(b, 2))
	drainEvents(a)
	drainEvents(b)

	hub.TypingStart(2, "corr-1")

	assert.Equal(t, 1, countType(drainEvents(a), EventTypingStart))
	assert.Equal(t, 1, countType(drainEvents(b), EventTypingStart))
}

func TestCompleteSenderCopyAndDebounce(t *testing.T) {
	hub := NewHub(nil)
	a := newTestClient(t, hub, 1, "alice")
	b := newTestClient(t, hub, 1, "alice")

	require.NoError(t, hub.Join(a, 2))
	drainEvents(a)
	drainEvents(b)

	result := &SendResult{
		UserMessage:      &Message{ID: 1},
		AssistantMessage: &Message{ID: 2},
		Conversation:     &Conversation{ID: 2},
	}
	hub.Complete(2, 1, a.ID, result, "corr-7")
	// Replayed envelope with the same correlation id must be
	// suppressed by the debouncer.
	hub.Complete(2, 1, a.ID, result, "corr-7")

	assert.Equal(t, 1, countType(drainEvents(a), EventMessageComplete), "sender gets its own direct copy exactly once")
	assert.Equal(t, 1, countType(drainEvents(b), EventMessageComplete))
}

func TestChunkReachesSenderAndOtherSessions(t *testing.T) {
	hub := NewHub(nil)
	a := newTestClient(t, hub, 1, "alice")
	b := newTestClient(t, hub, 1, "alice")

	require.NoError(t, hub.Join(a, 2))
	drainEvents(a)
	drainEvents(b)

	hub.Chunk(2, 1, a.ID, "The quick", "The quick", "corr-1")

	assert.Equal(t, 1, countType(drainEvents(a), EventMessageChunk))
	assert.Equal(t, 1, countType(drainEvents(b), EventMessageChunk))
}

func TestDebouncerSweepEvictsStaleEntries(t *testing.T) {
	d := newDebouncer()
	now := time.Now()
	d.now = func() time.Time { return now }

	require.True(t, d.first("a"))
	require.False(t, d.first("a"))

	now = now.Add(debounceStaleAfter + time.Second)
	d.sweep()

	assert.Empty(t, d.seen)
	assert.True(t, d.first("a"))
}
