package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-chat/internal/ai"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1}, nil
}

func TestMissingAPIKeyDisablesWorker(t *testing.T) {
	embedder := &fakeEmbedder{err: ai.ErrMissingAPIKey}
	w := NewWorker(embedder, nil, "embed-model")

	w.process(job{messageID: 1, content: "hello"})
	require.True(t, w.disabled)

	// Later jobs must not touch the provider again.
	w.process(job{messageID: 2, content: "world"})
	assert.Equal(t, 1, embedder.calls)
}

func TestTransientFailureIsSwallowed(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("provider timeout")}
	w := NewWorker(embedder, nil, "embed-model")

	w.process(job{messageID: 1, content: "hello"})
	assert.False(t, w.disabled)

	w.process(job{messageID: 2, content: "world"})
	assert.Equal(t, 2, embedder.calls, "transient failures do not disable the worker")
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := NewWorker(&fakeEmbedder{}, nil, "embed-model")

	for i := 0; i < cap(w.jobs)+5; i++ {
		w.Enqueue(i, "content")
	}
	assert.Len(t, w.jobs, cap(w.jobs))
}
