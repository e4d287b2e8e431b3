package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, chunks <-chan StreamChunk, errs <-chan error) ([]StreamChunk, error) {
	t.Helper()
	var out []StreamChunk
	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			out = append(out, c)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return out, err
			}
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not finish")
		}
	}
	return out, nil
}

func TestStreamChatParsesEventStream(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo ", "world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	chunks, errs := client.StreamChat(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})

	got, err := collect(t, chunks, errs)
	require.NoError(t, err)

	var text string
	for _, c := range got {
		text += c.Content
	}
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, "stop", got[len(got)-1].FinishReason)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotBody.Model)
	assert.True(t, gotBody.Stream)
}

func TestStreamChatSkipsKeepAliveNoise(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data:\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	chunks, errs := client.StreamChat(context.Background(), Request{Model: "m"})

	got, err := collect(t, chunks, errs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Content)
}

func TestStreamChatMissingKey(t *testing.T) {
	client := NewClient("", "http://localhost:0")
	chunks, errs := client.StreamChat(context.Background(), Request{Model: "m"})

	got, err := collect(t, chunks, errs)
	require.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Empty(t, got)
}

func TestStreamChatNon200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	chunks, errs := client.StreamChat(context.Background(), Request{Model: "m"})

	_, err := collect(t, chunks, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestStreamChatMultimodalWireFormat(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Parts: []ContentPart{
			{Type: "text", Text: "look"},
			{Type: "image_url", ImageURL: &ImageURL{URL: "https://cdn/x.png"}},
		}},
	}

	wire := toWire(msgs)
	require.Len(t, wire, 2)
	assert.Equal(t, "sys", wire[0].Content)

	parts, ok := wire[1].Content.([]ContentPart)
	require.True(t, ok)
	assert.Equal(t, "image_url", parts[1].Type)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-model", req.Model)
		assert.Equal(t, []string{"some text"}, req.Input)

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	vector, err := client.Embed(context.Background(), "embed-model", "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestEmbedMissingKey(t *testing.T) {
	client := NewClient("", "http://localhost:0")
	_, err := client.Embed(context.Background(), "m", "text")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestEmbedEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL)
	_, err := client.Embed(context.Background(), "m", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vectors")
}
