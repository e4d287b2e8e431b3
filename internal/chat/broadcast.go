package chat

import (
	"sync"
	"time"
)

// envelope is the fan-out directive shipped over Redis. Delivery
// targets are resolved per-process against local connection maps.
type envelope struct {
	ConversationID int    `json:"conversation_id,omitempty"`
	UserID         int    `json:"user_id,omitempty"`
	SourceConnID   string `json:"source_conn_id,omitempty"`
	IncludeSender  bool   `json:"include_sender,omitempty"`
	SenderCopy     bool   `json:"sender_copy,omitempty"`
	Residual       bool   `json:"residual,omitempty"`
	TrackUnread    bool   `json:"track_unread,omitempty"`
	DedupeKey      string `json:"dedupe_key,omitempty"`
	Event          Event  `json:"event"`
}

// Broadcaster is the capability handed to anything that emits events.
// Injected explicitly so deep call sites (the send pipeline, pin
// toggling) never reach for a package-level hub.
type Broadcaster interface {
	NewMessage(conversationID, userID int, sourceConnID string, msg *Message, correlationID string)
	Chunk(conversationID, userID int, sourceConnID, chunk, content, correlationID string)
	TypingStart(conversationID int, correlationID string)
	TypingStop(conversationID int, correlationID string)
	Complete(conversationID, userID int, sourceConnID string, result *SendResult, correlationID string)
	MessagePinned(conversationID, messageID int, pinned bool)
}

// NewMessage fans a freshly persisted user message out with the
// two-phase dedup pattern and flips unread state on the sender's
// other sessions.
func (h *Hub) NewMessage(conversationID, userID int, sourceConnID string, msg *Message, correlationID string) {
	h.emit(&envelope{
		ConversationID: conversationID,
		UserID:         userID,
		SourceConnID:   sourceConnID,
		Residual:       true,
		TrackUnread:    true,
		Event: newEvent(EventMessageNew, newMessagePayload{
			ConversationID: conversationID,
			Message:        msg,
			CorrelationID:  correlationID,
		}),
	})
}

// Chunk delivers one word-group of the in-flight reply. The sender is
// included: its UI renders the stream too.
func (h *Hub) Chunk(conversationID, userID int, sourceConnID, chunk, content, correlationID string) {
	h.emit(&envelope{
		ConversationID: conversationID,
		UserID:         userID,
		SourceConnID:   sourceConnID,
		IncludeSender:  true,
		Residual:       true,
		Event: newEvent(EventMessageChunk, chunkPayload{
			ConversationID: conversationID,
			Chunk:          chunk,
			Content:        content,
			CorrelationID:  correlationID,
		}),
	})
}

// TypingStart/TypingStop go to the whole channel including the
// sender; clients ignore their own echo by correlating ids.
func (h *Hub) TypingStart(conversationID int, correlationID string) {
	h.typing(EventTypingStart, conversationID, correlationID)
}

func (h *Hub) TypingStop(conversationID int, correlationID string) {
	h.typing(EventTypingStop, conversationID, correlationID)
}

func (h *Hub) typing(eventType string, conversationID int, correlationID string) {
	h.emit(&envelope{
		ConversationID: conversationID,
		IncludeSender:  true,
		Event: newEvent(eventType, typingPayload{
			ConversationID: conversationID,
			CorrelationID:  correlationID,
		}),
	})
}

// Complete reuses the two-phase pattern with the sender additionally
// receiving its own direct copy. Debounced on the correlation id so a
// replayed envelope never double-notifies.
func (h *Hub) Complete(conversationID, userID int, sourceConnID string, result *SendResult, correlationID string) {
	h.emit(&envelope{
		ConversationID: conversationID,
		UserID:         userID,
		SourceConnID:   sourceConnID,
		Residual:       true,
		SenderCopy:     true,
		DedupeKey:      correlationID,
		Event: newEvent(EventMessageComplete, completePayload{
			UserMessage:      result.UserMessage,
			AssistantMessage: result.AssistantMessage,
			Conversation:     result.Conversation,
			CorrelationID:    correlationID,
		}),
	})
}

// MessagePinned notifies the whole channel about a pin toggle.
func (h *Hub) MessagePinned(conversationID, messageID int, pinned bool) {
	h.emit(&envelope{
		ConversationID: conversationID,
		IncludeSender:  true,
		Event: newEvent(EventMessagePinned, pinnedPayload{
			ConversationID: conversationID,
			MessageID:      messageID,
			Pinned:         pinned,
		}),
	})
}

// ---------------------------------------------
// ⏲️ Completion Debouncer
// ---------------------------------------------

const (
	debounceSweepInterval = 60 * time.Second
	debounceStaleAfter    = 5 * time.Minute
)

// debouncer suppresses duplicate completion notifications. Entries
// older than the staleness threshold are evicted on a fixed sweep.
type debouncer struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func newDebouncer() *debouncer {
	return &debouncer{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// first reports whether the key has not been seen within the
// staleness window, recording it as seen.
func (d *debouncer) first(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok && d.now().Sub(at) < debounceStaleAfter {
		return false
	}
	d.seen[key] = d.now()
	return true
}

func (d *debouncer) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, at := range d.seen {
		if d.now().Sub(at) >= debounceStaleAfter {
			delete(d.seen, key)
		}
	}
}

func (d *debouncer) sweepLoop() {
	ticker := time.NewTicker(debounceSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		d.sweep()
	}
}
