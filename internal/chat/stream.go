package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode"

	"ai-chat/internal/ai"
	"ai-chat/internal/attachment"
)

const defaultContextWindow = 10

// Provider is the external completion stream the bridge invokes.
type Provider interface {
	StreamChat(ctx context.Context, req ai.Request) (<-chan ai.StreamChunk, <-chan error)
}

// Retriever optionally supplies a semantically ranked subset of prior
// messages instead of the most recent ones. Ranking itself lives
// outside this module; nil falls back to recent-N.
type Retriever interface {
	Retrieve(ctx context.Context, conversationID int, query string, limit int) ([]*Message, error)
}

// MessageSource is what the bridge needs from the store to build a
// context.
type MessageSource interface {
	RecentMessagesBefore(ctx context.Context, conversationID, beforeID, limit int) ([]*Message, error)
	AdjacentAssistant(ctx context.Context, conversationID, messageID int) (*Message, error)
	GetMessage(ctx context.Context, id int) (*Message, error)
}

// Bridge builds a bounded context, runs the provider stream, regroups
// tokens into word chunks and reports the final text.
type Bridge struct {
	provider    Provider
	store       MessageSource
	attachments attachment.Resolver
	retriever   Retriever

	systemPrompt string
	model        string
	visionModel  string
	maxTokens    int
	groupSize    int
	tokenBudget  int
}

type BridgeConfig struct {
	SystemPrompt string
	Model        string
	VisionModel  string
	MaxTokens    int
	GroupSize    int // words per emitted chunk
	TokenBudget  int // approximate cap on context size
}

func NewBridge(provider Provider, store MessageSource, attachments attachment.Resolver, retriever Retriever, cfg BridgeConfig) *Bridge {
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = 2
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 4000
	}
	return &Bridge{
		provider:     provider,
		store:        store,
		attachments:  attachments,
		retriever:    retriever,
		systemPrompt: cfg.SystemPrompt,
		model:        cfg.Model,
		visionModel:  cfg.VisionModel,
		maxTokens:    cfg.MaxTokens,
		groupSize:    cfg.GroupSize,
		tokenBudget:  cfg.TokenBudget,
	}
}

// Stream runs one completion turn. onChunk fires for every emitted
// word group with the group and the accumulated content so far. The
// returned string is the full reply; the second value is the model
// that produced it.
func (b *Bridge) Stream(ctx context.Context, conv *Conversation, userMsg *Message, input *SendInput, onChunk func(chunk, content string)) (string, string, error) {
	turns, model, err := b.buildContext(ctx, conv, userMsg, input)
	if err != nil {
		return "", model, err
	}

	chunks, errs := b.provider.StreamChat(ctx, ai.Request{
		Messages:  turns,
		Model:     model,
		MaxTokens: b.maxTokens,
	})

	grouper := newChunkGrouper(b.groupSize)
	var full strings.Builder

	emit := func(group string) {
		full.WriteString(group)
		onChunk(group, full.String())
	}

	for chunk := range chunks {
		for _, group := range grouper.add(chunk.Content) {
			emit(group)
		}
	}
	if err := <-errs; err != nil {
		return "", model, err
	}
	// Stream ended cleanly: flush the remainder, even a partial word.
	if tail := grouper.flush(); tail != "" {
		emit(tail)
	}

	if strings.TrimSpace(full.String()) == "" {
		return "", model, errors.New("provider returned empty output")
	}
	return full.String(), model, nil
}

// buildContext assembles system prompt + bounded prior messages + the
// new user entry, applying resend/edit rewrites and attachment
// restructuring to the final entry.
func (b *Bridge) buildContext(ctx context.Context, conv *Conversation, userMsg *Message, input *SendInput) ([]ai.Message, string, error) {
	window := conv.ContextWindow
	if window <= 0 {
		window = defaultContextWindow
	}

	prior, err := b.priorMessages(ctx, conv.ID, userMsg, window)
	if err != nil {
		return nil, b.model, &PersistenceError{Op: "load context", Err: err}
	}

	final := ai.Message{Role: ai.RoleUser, Content: userMsg.Content}
	if input.Meta != nil {
		final.Content = b.reconstructPrompt(ctx, conv.ID, userMsg.Content, input.Meta)
	}

	model := b.model
	if len(input.AttachmentIDs) > 0 && b.attachments != nil {
		descriptors, err := b.attachments.Resolve(ctx, input.AttachmentIDs)
		if err != nil {
			// Best-effort: an unresolved attachment degrades to text.
			log.Printf("⚠️ Attachment resolution failed: %v", err)
		} else if len(descriptors) > 0 {
			final = multimodalEntry(final.Content, descriptors)
			model = b.visionModel
		}
	}

	turns := make([]ai.Message, 0, len(prior)+2)
	turns = append(turns, ai.Message{Role: ai.RoleSystem, Content: b.systemPrompt})
	for _, m := range prior {
		turns = append(turns, ai.Message{Role: m.Role, Content: m.Content})
	}
	turns = append(turns, final)

	return truncateToBudget(turns, b.tokenBudget), model, nil
}

func (b *Bridge) priorMessages(ctx context.Context, conversationID int, userMsg *Message, window int) ([]*Message, error) {
	if b.retriever != nil {
		msgs, err := b.retriever.Retrieve(ctx, conversationID, userMsg.Content, window)
		if err == nil {
			return msgs, nil
		}
		log.Printf("⚠️ Semantic retrieval failed, falling back to recent messages: %v", err)
	}
	return b.store.RecentMessagesBefore(ctx, conversationID, userMsg.ID, window)
}

// reconstructPrompt rewrites the final context entry for a resend or
// edit: the adjacent assistant reply, original vs. current text, and
// an explicit instruction.
func (b *Bridge) reconstructPrompt(ctx context.Context, conversationID int, content string, meta *SendMeta) string {
	original := meta.OriginalContent
	if original == "" && meta.MessageID != 0 {
		if prev, err := b.store.GetMessage(ctx, meta.MessageID); err == nil {
			original = prev.Content
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The user previously sent this message: %q\n", original)
	if adjacent, err := b.store.AdjacentAssistant(ctx, conversationID, meta.MessageID); err == nil {
		fmt.Fprintf(&sb, "You replied: %q\n", adjacent.Content)
	}

	switch meta.Action {
	case "edit":
		fmt.Fprintf(&sb, "The user has edited their message to: %q\n", content)
		sb.WriteString("Respond to the edited message.")
	default: // resend
		fmt.Fprintf(&sb, "The user asked you to regenerate your response to: %q\n", content)
		sb.WriteString("Provide a fresh response.")
	}
	return sb.String()
}

// multimodalEntry restructures the final user entry into text plus
// one image reference per image attachment and inlined extracted text
// per document attachment.
func multimodalEntry(text string, descriptors []attachment.Descriptor) ai.Message {
	parts := []ai.ContentPart{{Type: "text", Text: text}}
	for _, d := range descriptors {
		switch d.Kind {
		case attachment.KindImage:
			parts = append(parts, ai.ContentPart{
				Type:     "image_url",
				ImageURL: &ai.ImageURL{URL: d.URL},
			})
		case attachment.KindDocument:
			if d.ExtractedText != "" {
				parts = append(parts, ai.ContentPart{
					Type: "text",
					Text: fmt.Sprintf("Attached document %s:\n%s", d.PublicID, d.ExtractedText),
				})
			}
		}
	}
	return ai.Message{Role: ai.RoleUser, Parts: parts}
}

// truncateToBudget drops the oldest non-system entries until the
// approximate token total fits. The system prompt and the final entry
// always survive.
func truncateToBudget(turns []ai.Message, budget int) []ai.Message {
	total := 0
	for _, t := range turns {
		total += turnTokens(t)
	}
	for total > budget && len(turns) > 2 {
		total -= turnTokens(turns[1])
		turns = append(turns[:1], turns[2:]...)
	}
	return turns
}

func turnTokens(t ai.Message) int {
	if len(t.Parts) == 0 {
		return EstimateTokens(t.Content)
	}
	total := 0
	for _, p := range t.Parts {
		total += EstimateTokens(p.Text)
	}
	return total
}

// ---------------------------------------------
// 🔤 Word-Group Rebuffering
// ---------------------------------------------

// chunkGrouper rebuffers arbitrary partial-text deltas into chunks of
// whole words. Every emitted chunk is a literal substring of the
// stream, so concatenating the chunks reproduces the provider's text
// exactly, newlines and whitespace runs included. A word only counts
// once the delimiter after it has arrived; the trailing partial word
// waits for flush.
type chunkGrouper struct {
	size int
	buf  string
}

func newChunkGrouper(size int) *chunkGrouper {
	if size <= 0 {
		size = 2
	}
	return &chunkGrouper{size: size}
}

// add absorbs a delta and returns every full word group now ready.
func (g *chunkGrouper) add(delta string) []string {
	g.buf += delta

	var groups []string
	for {
		end, ok := g.groupEnd()
		if !ok {
			break
		}
		groups = append(groups, g.buf[:end])
		g.buf = g.buf[end:]
	}
	return groups
}

// groupEnd locates the cut just past the size-th complete word in the
// buffer. A word is complete only when the whitespace after it has
// arrived; the final word of the buffer may still be growing.
func (g *chunkGrouper) groupEnd() (int, bool) {
	words := 0
	inWord := false
	for i, r := range g.buf {
		if unicode.IsSpace(r) {
			if inWord {
				words++
				if words == g.size {
					return i, true
				}
			}
			inWord = false
			continue
		}
		inWord = true
	}
	return 0, false
}

// flush drains whatever remains, even a partial word, as one final
// chunk.
func (g *chunkGrouper) flush() string {
	out := g.buf
	g.buf = ""
	return out
}
