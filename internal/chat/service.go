package chat

import (
	"context"
	"errors"
	"log"
	"strings"

	"ai-chat/internal/attachment"
)

// Store is the persistence surface the send pipeline needs. The
// concrete Repository satisfies it; tests swap in memory fakes.
type Store interface {
	MessageSource
	GetConversation(ctx context.Context, id int) (*Conversation, error)
	CreateMessage(ctx context.Context, msg *Message) error
	BumpConversation(ctx context.Context, id, tokens int) (*Conversation, error)
	SetPinned(ctx context.Context, messageID int, pinned bool) error
}

// Invalidator names the cache partitions a mutation affects.
type Invalidator interface {
	InvalidateConversation(ctx context.Context, conversationID int)
	InvalidateConversationList(ctx context.Context, userID int)
}

// Embedder is the fire-and-forget embedding job queue. Best-effort,
// at-most-once.
type Embedder interface {
	Enqueue(messageID int, content string)
}

// Service runs the send/stream/persist pipeline for one conversation
// turn. Every capability is injected; nothing global.
type Service struct {
	store       Store
	cache       Invalidator
	broadcaster Broadcaster
	bridge      *Bridge
	embedder    Embedder
	attachments attachment.Resolver
}

func NewService(store Store, cache Invalidator, broadcaster Broadcaster, bridge *Bridge, embedder Embedder, attachments attachment.Resolver) *Service {
	return &Service{
		store:       store,
		cache:       cache,
		broadcaster: broadcaster,
		bridge:      bridge,
		embedder:    embedder,
		attachments: attachments,
	}
}

// Send executes one full conversation turn:
//
//	validate → authorize → persist user message → link attachments →
//	bump counters → invalidate caches → queue embedding →
//	broadcast message:new → stream completion → persist assistant →
//	bump counters → invalidate caches → broadcast message:complete
//
// The message:new broadcast always completes before the provider is
// asked for tokens, so peers see the user's message before any typing
// signal. On a streaming failure the persisted user message stays.
func (s *Service) Send(ctx context.Context, input SendInput, correlationID string) (*SendResult, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, &ValidationError{Reason: "message content is required"}
	}
	if input.ConversationID == 0 {
		return nil, &ValidationError{Reason: "conversation id is required"}
	}

	conv, err := s.authorize(ctx, input.ConversationID, input.UserID)
	if err != nil {
		return nil, err
	}

	// Estimate and persist the user message.
	userMsg := &Message{
		ConversationID: conv.ID,
		Role:           RoleUser,
		Content:        content,
		Tokens:         EstimateTokens(content),
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, &PersistenceError{Op: "create user message", Err: err}
	}

	// Best-effort attachment linking; failures are swallowed.
	if len(input.AttachmentIDs) > 0 && s.attachments != nil {
		if err := s.attachments.Link(ctx, userMsg.ID, input.AttachmentIDs); err != nil {
			log.Printf("⚠️ Attachment linking failed for message %d: %v", userMsg.ID, err)
		}
	}

	// Conversation aggregates.
	conv, err = s.store.BumpConversation(ctx, conv.ID, userMsg.Tokens)
	if err != nil {
		return nil, &PersistenceError{Op: "update conversation counters", Err: err}
	}

	// Invalidate before any broadcast or stream step.
	s.invalidate(ctx, conv)

	// Fire-and-forget embedding.
	if s.embedder != nil {
		s.embedder.Enqueue(userMsg.ID, content)
	}

	// The "user message created" hook: must finish before the
	// completion stream starts.
	s.broadcaster.NewMessage(conv.ID, input.UserID, input.ConnectionID, userMsg, correlationID)

	return s.streamReply(ctx, conv, userMsg, input, correlationID)
}

func (s *Service) streamReply(ctx context.Context, conv *Conversation, userMsg *Message, input SendInput, correlationID string) (*SendResult, error) {
	s.broadcaster.TypingStart(conv.ID, correlationID)

	text, model, err := s.bridge.Stream(ctx, conv, userMsg, &input, func(chunk, content string) {
		s.broadcaster.Chunk(conv.ID, input.UserID, input.ConnectionID, chunk, content, correlationID)
	})

	s.broadcaster.TypingStop(conv.ID, correlationID)

	if err != nil {
		var pe *PersistenceError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &StreamingError{Err: err}
	}

	assistantMsg := &Message{
		ConversationID: conv.ID,
		Role:           RoleAssistant,
		Content:        text,
		Tokens:         EstimateTokens(text),
		Model:          model,
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		return nil, &PersistenceError{Op: "create assistant message", Err: err}
	}

	conv, err = s.store.BumpConversation(ctx, conv.ID, assistantMsg.Tokens)
	if err != nil {
		return nil, &PersistenceError{Op: "update conversation counters", Err: err}
	}

	s.invalidate(ctx, conv)

	result := &SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Conversation:     conv,
	}
	s.broadcaster.Complete(conv.ID, input.UserID, input.ConnectionID, result, correlationID)
	return result, nil
}

// TogglePin flips a message's pinned flag and notifies the channel.
func (s *Service) TogglePin(ctx context.Context, userID, messageID int, pinned bool) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &AuthorizationError{Reason: "message not found"}
		}
		return &PersistenceError{Op: "load message", Err: err}
	}

	conv, err := s.authorize(ctx, msg.ConversationID, userID)
	if err != nil {
		return err
	}

	if err := s.store.SetPinned(ctx, messageID, pinned); err != nil {
		return &PersistenceError{Op: "pin message", Err: err}
	}

	s.invalidate(ctx, conv)
	s.broadcaster.MessagePinned(conv.ID, messageID, pinned)
	return nil
}

// authorize loads the conversation and checks it exists, is not
// deleted, and belongs to the caller.
func (s *Service) authorize(ctx context.Context, conversationID, userID int) (*Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &AuthorizationError{Reason: "conversation not found"}
		}
		return nil, &PersistenceError{Op: "load conversation", Err: err}
	}
	if conv.DeletedAt != nil {
		return nil, &AuthorizationError{Reason: "conversation not found"}
	}
	if conv.UserID != userID {
		return nil, &AuthorizationError{Reason: "conversation does not belong to you"}
	}
	return conv, nil
}

// invalidate drops the three partitions every message write affects.
// Awaited here, but the caller never fails because of it.
func (s *Service) invalidate(ctx context.Context, conv *Conversation) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateConversation(ctx, conv.ID)
	s.cache.InvalidateConversationList(ctx, conv.UserID)
}
