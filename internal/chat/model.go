package chat

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Conversation struct {
	ID              int        `json:"id"`
	UserID          int        `json:"user_id"`
	Title           string     `json:"title"`
	ContextWindow   int        `json:"context_window"`
	MessageCount    int        `json:"message_count"`
	TotalTokensUsed int        `json:"total_tokens_used"`
	DeletedAt       *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Tokens         int       `json:"tokens"`
	Model          string    `json:"model,omitempty"`
	Pinned         bool      `json:"pinned"`
	CreatedAt      time.Time `json:"created_at"`
}

// EstimateTokens is the deterministic cost estimate used for both
// counters and the context budget: ~4 characters per token.
func EstimateTokens(content string) int {
	return len(content)/4 + 1
}

// ---------------------------------------------
// 📨 Send Pipeline Inputs & Outputs
// ---------------------------------------------

// SendMeta marks a resend or edit of a prior user message. The bridge
// rewrites the final context entry into a reconstructed prompt.
type SendMeta struct {
	Action          string `json:"action"` // "resend" or "edit"
	MessageID       int    `json:"message_id"`
	OriginalContent string `json:"original_content,omitempty"`
}

type SendInput struct {
	ConversationID int
	UserID         int
	ConnectionID   string
	Content        string
	AttachmentIDs  []string
	Meta           *SendMeta
}

type SendResult struct {
	UserMessage      *Message      `json:"userMessage"`
	AssistantMessage *Message      `json:"assistantMessage"`
	Conversation     *Conversation `json:"conversation"`
}

// ---------------------------------------------
// ⚡ Wire Events (server → client)
// ---------------------------------------------

const (
	EventConversationJoined = "conversation:joined"
	EventConversationLeft   = "conversation:left"
	EventMessageNew         = "message:new"
	EventMessageChunk       = "message:chunk"
	EventTypingStart        = "ai:typing:start"
	EventTypingStop         = "ai:typing:stop"
	EventMessageComplete    = "message:complete"
	EventUnreadStatus       = "conversation:unread_status"
	EventMessagePinned      = "message:pinned"
	EventError              = "error"
)

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newEvent(eventType string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: eventType, Payload: data}
}

func (e Event) encode() []byte {
	data, _ := json.Marshal(e)
	return data
}

type joinedPayload struct {
	ConversationID int `json:"conversationId"`
}

type newMessagePayload struct {
	ConversationID int      `json:"conversationId"`
	Message        *Message `json:"message"`
	CorrelationID  string   `json:"correlationId"`
}

type chunkPayload struct {
	ConversationID int    `json:"conversationId"`
	Chunk          string `json:"chunk"`
	Content        string `json:"content"` // everything streamed so far
	CorrelationID  string `json:"correlationId"`
}

type typingPayload struct {
	ConversationID int    `json:"conversationId"`
	CorrelationID  string `json:"correlationId"`
}

type completePayload struct {
	UserMessage      *Message      `json:"userMessage"`
	AssistantMessage *Message      `json:"assistantMessage"`
	Conversation     *Conversation `json:"conversation"`
	CorrelationID    string        `json:"correlationId"`
}

type unreadStatusPayload struct {
	ConversationID     int    `json:"conversationId"`
	HasUnread          bool   `json:"hasUnread"`
	SourceConnectionID string `json:"sourceConnectionId"`
}

type pinnedPayload struct {
	ConversationID int  `json:"conversationId"`
	MessageID      int  `json:"messageId"`
	Pinned         bool `json:"pinned"`
}

type errorPayload struct {
	Message        string    `json:"message"`
	ConversationID int       `json:"conversationId,omitempty"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ---------------------------------------------
// ⚡ Wire Frames (client → server)
// ---------------------------------------------

const (
	FrameJoin    = "conversation:join"
	FrameLeave   = "conversation:leave"
	FrameView    = "conversation:view"
	FrameUnview  = "conversation:unview"
	FrameSend    = "message:send"
	FrameUnread  = "conversation:mark_unread"
)

// InboundFrame is the JSON the frontend sends over the socket.
type InboundFrame struct {
	Type           string    `json:"type"`
	ConversationID int       `json:"conversation_id"`
	Content        string    `json:"content"`
	AttachmentIDs  []string  `json:"attachment_ids"`
	Meta           *SendMeta `json:"meta"`
}
