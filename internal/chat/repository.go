package chat

import (
	"context"
	"database/sql"
	"errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var ErrNotFound = errors.New("not found")

// ---------------------------------------------
// Conversations
// ---------------------------------------------

func (r *Repository) CreateConversation(ctx context.Context, userID int, title string) (*Conversation, error) {
	conv := &Conversation{UserID: userID, Title: title}
	query := `
		INSERT INTO conversations (user_id, title)
		VALUES ($1, $2)
		RETURNING id, title, context_window, message_count, total_tokens_used, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, userID, title).Scan(
		&conv.ID, &conv.Title, &conv.ContextWindow,
		&conv.MessageCount, &conv.TotalTokensUsed,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *Repository) GetConversation(ctx context.Context, id int) (*Conversation, error) {
	conv := &Conversation{}
	query := `
		SELECT id, user_id, title, context_window, message_count,
		       total_tokens_used, deleted_at, created_at, updated_at
		FROM conversations WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.ContextWindow,
		&conv.MessageCount, &conv.TotalTokensUsed,
		&conv.DeletedAt, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conv, nil
}

func (r *Repository) ListConversations(ctx context.Context, userID int) ([]*Conversation, error) {
	query := `
		SELECT id, user_id, title, context_window, message_count,
		       total_tokens_used, created_at, updated_at
		FROM conversations
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(
			&conv.ID, &conv.UserID, &conv.Title, &conv.ContextWindow,
			&conv.MessageCount, &conv.TotalTokensUsed,
			&conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// BumpConversation applies one message's worth of counter updates.
// Deliberately a separate statement from the message insert: a crash
// between the two can skew counters against the actual row count.
func (r *Repository) BumpConversation(ctx context.Context, id, tokens int) (*Conversation, error) {
	conv := &Conversation{}
	query := `
		UPDATE conversations
		SET message_count = message_count + 1,
		    total_tokens_used = total_tokens_used + $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING id, user_id, title, context_window, message_count,
		          total_tokens_used, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, id, tokens).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.ContextWindow,
		&conv.MessageCount, &conv.TotalTokensUsed,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *Repository) SoftDeleteConversation(ctx context.Context, id int) error {
	query := `UPDATE conversations SET deleted_at = CURRENT_TIMESTAMP WHERE id = $1 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// ---------------------------------------------
// Messages
// ---------------------------------------------

func (r *Repository) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (conversation_id, role, content, tokens, model)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		msg.ConversationID, msg.Role, msg.Content, msg.Tokens, msg.Model,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *Repository) GetMessage(ctx context.Context, id int) (*Message, error) {
	msg := &Message{}
	query := `
		SELECT id, conversation_id, role, content, tokens, model, pinned, created_at
		FROM messages WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.Tokens, &msg.Model, &msg.Pinned, &msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

// GetMessages returns the most recent `limit` messages in ascending
// order (the shape history views want).
func (r *Repository) GetMessages(ctx context.Context, conversationID, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tokens, model, pinned, created_at
		FROM (
			SELECT id, conversation_id, role, content, tokens, model, pinned, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC
	`
	return r.scanMessages(ctx, query, conversationID, limit)
}

// RecentMessagesBefore returns up to `limit` messages older than
// beforeID, ascending. Used to build the completion context around a
// just-persisted user message.
func (r *Repository) RecentMessagesBefore(ctx context.Context, conversationID, beforeID, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tokens, model, pinned, created_at
		FROM (
			SELECT id, conversation_id, role, content, tokens, model, pinned, created_at
			FROM messages
			WHERE conversation_id = $1 AND id < $2
			ORDER BY id DESC
			LIMIT $3
		) recent
		ORDER BY id ASC
	`
	return r.scanMessages(ctx, query, conversationID, beforeID, limit)
}

func (r *Repository) scanMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Tokens, &msg.Model, &msg.Pinned, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// AdjacentAssistant finds the assistant reply next to a referenced
// message: the one immediately following it, or failing that the one
// immediately before. Used to reconstruct resend/edit prompts.
func (r *Repository) AdjacentAssistant(ctx context.Context, conversationID, messageID int) (*Message, error) {
	following := `
		SELECT id, conversation_id, role, content, tokens, model, pinned, created_at
		FROM messages
		WHERE conversation_id = $1 AND id > $2 AND role = 'assistant'
		ORDER BY id ASC LIMIT 1
	`
	msgs, err := r.scanMessages(ctx, following, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return msgs[0], nil
	}

	prior := `
		SELECT id, conversation_id, role, content, tokens, model, pinned, created_at
		FROM messages
		WHERE conversation_id = $1 AND id < $2 AND role = 'assistant'
		ORDER BY id DESC LIMIT 1
	`
	msgs, err = r.scanMessages(ctx, prior, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[0], nil
}

func (r *Repository) SetPinned(ctx context.Context, messageID int, pinned bool) error {
	query := `UPDATE messages SET pinned = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, messageID, pinned)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CountMessages(ctx context.Context, conversationID int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID,
	).Scan(&count)
	return count, err
}
