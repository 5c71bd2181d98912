package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BaSui01/promptflow/llm"
)

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, "/v1/chat/completions", p.Cfg.EndpointPath)
	assert.Equal(t, "/v1/models", p.Cfg.ModelsEndpoint)
	assert.Equal(t, "openai-compat", p.Name())
	assert.Equal(t, 60*time.Second, p.Client.Timeout)
	assert.NotNil(t, p.Logger)

	p = New(Config{ProviderName: "local", EndpointPath: "/api/chat", Timeout: 5 * time.Second}, zap.NewNop())
	assert.Equal(t, "/api/chat", p.Cfg.EndpointPath)
	assert.Equal(t, "local", p.Name())
	assert.Equal(t, 5*time.Second, p.Client.Timeout)
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func TestProvider_Completion_Success(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Request-ID"))
		body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "resp-1",
			"model": "gpt-test",
			"created": 1700000000,
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "[[ ## answer ## ]]\n4"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	}))
	defer server.Close()

	p := New(Config{ProviderName: "test", APIKey: "test-key", BaseURL: server.URL, DefaultModel: "default-model"}, nil)
	req := llm.UserPrompt("", "2+2?")
	req.TraceID = "trace-1"

	resp, err := p.Completion(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "test", resp.Provider)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.Equal(t, time.Unix(1700000000, 0), resp.CreatedAt)
	text, err := llm.ReplyText(resp)
	require.NoError(t, err)
	assert.Equal(t, "[[ ## answer ## ]]\n4", text)

	assert.Equal(t, "default-model", gjson.GetBytes(body, "model").String())
	assert.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, "2+2?", gjson.GetBytes(body, "messages.0.content").String())
	assert.False(t, gjson.GetBytes(body, "stream").Exists())
}

func TestProvider_Completion_ExtraOptionsMerged(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL}, nil)
	req := llm.UserPrompt("gpt-x", "hi")
	req.Extra = map[string]any{
		"temperature":          0.2,
		"seed":                 7,
		"response_format.type": "text",
		"messages":             "must not replace",
	}

	_, err := p.Completion(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-x", gjson.GetBytes(body, "model").String())
	assert.InDelta(t, 0.2, gjson.GetBytes(body, "temperature").Float(), 1e-9)
	assert.Equal(t, int64(7), gjson.GetBytes(body, "seed").Int())
	assert.Equal(t, "text", gjson.GetBytes(body, "response_format.type").String())
	assert.True(t, gjson.GetBytes(body, "messages").IsArray())
}

func TestProvider_Completion_HTTPErrors(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		wantCode  llm.ErrorCode
		retryable bool
		message   string
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key","type":"auth"}}`, llm.ErrUnauthorized, false, "bad key (type: auth)"},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, llm.ErrRateLimited, true, "slow down"},
		{http.StatusBadRequest, `{"error":{"message":"quota exhausted"}}`, llm.ErrQuotaExceeded, false, "quota exhausted"},
		{http.StatusBadRequest, `{"error":{"message":"bad field"}}`, llm.ErrInvalidRequest, false, "bad field"},
		{http.StatusGatewayTimeout, `timeout`, llm.ErrUpstreamTimeout, true, "timeout"},
		{http.StatusInternalServerError, `boom`, llm.ErrUpstreamError, true, "boom"},
		{529, `{}`, llm.ErrModelOverloaded, true, "{}"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			p := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
			_, err := p.Completion(context.Background(), llm.UserPrompt("m", "x"))
			require.Error(t, err)

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.retryable, llmErr.Retryable)
			assert.Equal(t, tt.status, llmErr.HTTPStatus)
			assert.Equal(t, tt.message, llmErr.Message)
			assert.Equal(t, "test", llmErr.Provider)
		})
	}
}

func TestProvider_Completion_NilRequest(t *testing.T) {
	p := New(Config{}, nil)
	_, err := p.Completion(context.Background(), nil)
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrInvalidRequest, llmErr.Code)
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func sseEvent(content string) string {
	data, _ := json.Marshal(map[string]any{
		"id":      "s-1",
		"model":   "gpt-test",
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": content}}},
	})
	return "data: " + string(data) + "\n\n"
}

func TestProvider_Stream(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"[[ ## answer ## ]]\n", "hi", " there"} {
			_, _ = io.WriteString(w, sseEvent(part))
			flusher.Flush()
		}
		_, _ = io.WriteString(w, ": keep-alive\n\n")
		_, _ = io.WriteString(w, `data: {"id":"s-1","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := New(Config{BaseURL: server.URL}, nil)
	ch, err := p.Stream(context.Background(), llm.UserPrompt("gpt-test", "q"))
	require.NoError(t, err)

	var chunks []llm.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 4)
	assert.Equal(t, "[[ ## answer ## ]]\n", chunks[0].Delta.Content)
	assert.Equal(t, " there", chunks[2].Delta.Content)
	require.NotNil(t, chunks[3].Usage)
	assert.Equal(t, 7, chunks[3].Usage.TotalTokens)

	assert.True(t, gjson.GetBytes(body, "stream").Bool())
	assert.True(t, gjson.GetBytes(body, "stream_options.include_usage").Bool())
}

func TestStreamSSE_MalformedEvent(t *testing.T) {
	body := io.NopCloser(strings.NewReader(sseEvent("ok") + "data: {not json\n\n" + sseEvent("never")))
	ch := StreamSSE(context.Background(), body, "test")

	first := <-ch
	assert.Equal(t, "ok", first.Delta.Content)
	second := <-ch
	require.NotNil(t, second.Err)
	assert.Equal(t, llm.ErrUpstreamError, second.Err.Code)
	_, open := <-ch
	assert.False(t, open)
}

func TestStreamSSE_NoTrailingNewline(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.TrimSuffix(sseEvent("tail"), "\n\n")))
	text, err := llm.CollectStream(context.Background(), StreamSSE(context.Background(), body, "test"))
	require.NoError(t, err)
	assert.Equal(t, "tail", text)
}

func TestStreamSSE_ContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := StreamSSE(ctx, pr, "test")

	go func() { _, _ = io.WriteString(pw, sseEvent("a")) }()
	assert.Equal(t, "a", (<-ch).Delta.Content)

	cancel()
	go func() { _, _ = io.WriteString(pw, sseEvent("b")) }()

	select {
	case _, open := <-ch:
		if open {
			_, open = <-ch
		}
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestProvider_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			_, _ = io.WriteString(w, `{"data":[]}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	status, err := New(Config{BaseURL: server.URL}, nil).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	status, err = New(Config{BaseURL: server.URL, ModelsEndpoint: "/missing"}, nil).HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}
