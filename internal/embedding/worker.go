package embedding

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"ai-chat/internal/ai"
)

// Embedder computes a vector for a piece of text. *ai.Client
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

type job struct {
	messageID int
	content   string
}

// Worker is the fire-and-forget embedding queue behind message
// ingestion. Delivery is best-effort and at-most-once: a full queue
// drops the job, a failed embed is logged and forgotten. The one
// failure that is not swallowed quietly is a missing credential,
// which is a configuration problem and disables the worker.
type Worker struct {
	embedder Embedder
	db       *sql.DB
	model    string
	jobs     chan job
	disabled bool
}

func NewWorker(embedder Embedder, db *sql.DB, model string) *Worker {
	return &Worker{
		embedder: embedder,
		db:       db,
		model:    model,
		jobs:     make(chan job, 64),
	}
}

// Enqueue never blocks the send pipeline. If the queue is full the
// job is dropped.
func (w *Worker) Enqueue(messageID int, content string) {
	select {
	case w.jobs <- job{messageID: messageID, content: content}:
	default:
		log.Printf("⚠️ Embedding queue full, dropping message %d", messageID)
	}
}

// Run drains the queue. Blocks; run it in a goroutine.
func (w *Worker) Run() {
	for j := range w.jobs {
		w.process(j)
	}
}

func (w *Worker) process(j job) {
	if w.disabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vector, err := w.embedder.Embed(ctx, w.model, j.content)
	if err != nil {
		if errors.Is(err, ai.ErrMissingAPIKey) {
			log.Printf("❌ Embedding worker disabled: %v", err)
			w.disabled = true
			return
		}
		log.Printf("⚠️ Embedding failed for message %d: %v", j.messageID, err)
		return
	}

	if err := w.store(ctx, j.messageID, vector); err != nil {
		log.Printf("⚠️ Embedding store failed for message %d: %v", j.messageID, err)
	}
}

func (w *Worker) store(ctx context.Context, messageID int, vector []float32) error {
	encoded, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO message_embeddings (message_id, model, vector)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO UPDATE SET model = $2, vector = $3
	`
	_, err = w.db.ExecContext(ctx, query, messageID, w.model, encoded)
	return err
}
