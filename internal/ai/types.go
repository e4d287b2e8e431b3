package ai

// Role values mirror the chat completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one element of a multimodal message: either plain
// text or an image reference.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Message is one turn of conversation context. Content carries plain
// text; Parts, when non-empty, takes precedence and carries a
// multimodal payload.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

// Request asks the provider for one completion.
type Request struct {
	Messages  []Message
	Model     string
	MaxTokens int
}

// StreamChunk is one incremental piece of a streamed completion.
type StreamChunk struct {
	Content      string
	FinishReason string
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
