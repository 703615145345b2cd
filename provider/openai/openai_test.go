package openai_provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsbrief/config"
	"github.com/mohammad-safakhou/newsbrief/provider"
)

type chatServer struct {
	mu       sync.Mutex
	requests []map[string]any
	replies  []func(w http.ResponseWriter)
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if idx >= len(s.replies) {
		http.Error(w, "unexpected request", http.StatusTeapot)
		return
	}
	s.replies[idx](w)
}

func completion(message map[string]any) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []any{map[string]any{"index": 0, "message": message, "finish_reason": "stop"}},
		})
	}
}

func toolCall(id, name, args string) map[string]any {
	return map[string]any{
		"role":    "assistant",
		"content": "",
		"tool_calls": []any{map[string]any{
			"id":       id,
			"type":     "function",
			"function": map[string]any{"name": name, "arguments": args},
		}},
	}
}

func failure(status int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
	}
}

func newTestClient(t *testing.T, srv *chatServer, rounds int) provider.Generator {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return NewOpenAIClient(config.LLMConfig{
		APIKey:        "test",
		BaseURL:       ts.URL,
		Model:         "test-model",
		MaxToolRounds: rounds,
	}, zap.NewNop())
}

func TestGeneratePlainAnswer(t *testing.T) {
	srv := &chatServer{replies: []func(http.ResponseWriter){
		completion(map[string]any{"role": "assistant", "content": `["sports"]`}),
	}}
	g := newTestClient(t, srv, 4)

	out, err := g.Generate(context.Background(), provider.Prompt{Instructions: "classify", Input: "who won?"})
	require.NoError(t, err)
	assert.Equal(t, `["sports"]`, out)

	require.Len(t, srv.requests, 1)
	msgs := srv.requests[0]["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "who won?", msgs[1].(map[string]any)["content"])
	assert.Nil(t, srv.requests[0]["tools"])
}

func TestGenerateRunsToolCalls(t *testing.T) {
	srv := &chatServer{replies: []func(http.ResponseWriter){
		completion(toolCall("call_1", "fetch_top_headlines", `{"limit":2}`)),
		completion(toolCall("call_2", "missing_tool", `{}`)),
		completion(map[string]any{"role": "assistant", "content": "done"}),
	}}
	g := newTestClient(t, srv, 4)

	var gotArgs string
	tool := provider.Tool{
		Name:       "fetch_top_headlines",
		Parameters: map[string]any{"type": "object"},
		Call: func(_ context.Context, args json.RawMessage) (string, error) {
			gotArgs = string(args)
			return `[{"title":"a"}]`, nil
		},
	}
	out, err := g.Generate(context.Background(), provider.Prompt{Input: "go", Tools: []provider.Tool{tool}})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.JSONEq(t, `{"limit":2}`, gotArgs)

	require.Len(t, srv.requests, 3)
	second := srv.requests[1]["messages"].([]any)
	last := second[len(second)-1].(map[string]any)
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
	assert.Equal(t, `[{"title":"a"}]`, last["content"])

	third := srv.requests[2]["messages"].([]any)
	unknown := third[len(third)-1].(map[string]any)
	assert.Contains(t, unknown["content"], `"error"`)
}

func TestGenerateToolErrorIsReturnedToModel(t *testing.T) {
	srv := &chatServer{replies: []func(http.ResponseWriter){
		completion(toolCall("call_1", "fetch_top_headlines", `{}`)),
		completion(map[string]any{"role": "assistant", "content": "[]"}),
	}}
	g := newTestClient(t, srv, 4)

	tool := provider.Tool{
		Name: "fetch_top_headlines",
		Call: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("upstream 503")
		},
	}
	out, err := g.Generate(context.Background(), provider.Prompt{Input: "go", Tools: []provider.Tool{tool}})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	msgs := srv.requests[1]["messages"].([]any)
	assert.JSONEq(t, `{"error":"upstream 503"}`, msgs[len(msgs)-1].(map[string]any)["content"].(string))
}

func TestGenerateWithholdsToolsAfterLastRound(t *testing.T) {
	srv := &chatServer{replies: []func(http.ResponseWriter){
		completion(toolCall("call_1", "t", `{}`)),
		completion(map[string]any{"role": "assistant", "content": "final"}),
	}}
	g := newTestClient(t, srv, 1)

	tool := provider.Tool{Name: "t", Call: func(context.Context, json.RawMessage) (string, error) { return "ok", nil }}
	out, err := g.Generate(context.Background(), provider.Prompt{Input: "go", Tools: []provider.Tool{tool}})
	require.NoError(t, err)
	assert.Equal(t, "final", out)
	assert.NotNil(t, srv.requests[0]["tools"])
	assert.Nil(t, srv.requests[1]["tools"])
}

func TestGenerateStopsWhenModelKeepsCallingTools(t *testing.T) {
	const rounds = 2
	var replies []func(http.ResponseWriter)
	for i := 0; i < 10; i++ {
		replies = append(replies, completion(toolCall("c1", "t", `{}`)))
	}
	srv := &chatServer{replies: replies}
	g := newTestClient(t, srv, rounds)

	calls := 0
	tool := provider.Tool{Name: "t", Call: func(context.Context, json.RawMessage) (string, error) {
		calls++
		return "ok", nil
	}}
	_, err := g.Generate(context.Background(), provider.Prompt{Input: "go", Tools: []provider.Tool{tool}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrHard))
	assert.Len(t, srv.requests, rounds+1)
	assert.Equal(t, rounds, calls)
}

func TestGenerateKeepsContentOfToolCallAfterLastRound(t *testing.T) {
	reply := toolCall("c1", "t", `{}`)
	reply["content"] = "partial answer"
	srv := &chatServer{replies: []func(http.ResponseWriter){
		completion(toolCall("c0", "t", `{}`)),
		completion(reply),
	}}
	g := newTestClient(t, srv, 1)

	tool := provider.Tool{Name: "t", Call: func(context.Context, json.RawMessage) (string, error) { return "ok", nil }}
	out, err := g.Generate(context.Background(), provider.Prompt{Input: "go", Tools: []provider.Tool{tool}})
	require.NoError(t, err)
	assert.Equal(t, "partial answer", out)
	assert.Len(t, srv.requests, 2)
}

func TestGenerateClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &chatServer{replies: []func(http.ResponseWriter){failure(tt.status)}}
			g := newTestClient(t, srv, 4)

			_, err := g.Generate(context.Background(), provider.Prompt{Input: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, provider.IsTransient(err))
			if !tt.transient {
				assert.ErrorIs(t, err, provider.ErrHard)
			}
		})
	}
}

func TestGenerateCancelledContextIsHard(t *testing.T) {
	srv := &chatServer{}
	g := newTestClient(t, srv, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, provider.Prompt{Input: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrHard)
	assert.ErrorIs(t, err, context.Canceled)
}
