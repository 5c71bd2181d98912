package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/BaSui01/promptflow/internal/tlsutil"
	"github.com/BaSui01/promptflow/llm"
)

// Config holds the configuration for an OpenAI-compatible endpoint.
type Config struct {
	// ProviderName is the unique identifier for this provider (e.g., "openai", "deepseek").
	ProviderName string

	// APIKey is sent as a Bearer token. Empty disables the Authorization header.
	APIKey string

	// BaseURL is the base URL of the API (e.g., "https://api.openai.com").
	BaseURL string

	// DefaultModel is the model to use when none is specified in the request.
	DefaultModel string

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// ModelsEndpoint is the models list endpoint path. Defaults to "/v1/models".
	ModelsEndpoint string

	// BuildHeaders is an optional function to set custom headers on each request.
	// If nil, the default "Authorization: Bearer <apiKey>" header is used.
	BuildHeaders func(req *http.Request, apiKey string)
}

// reservedKeys are body fields that ChatRequest.Extra may not replace.
var reservedKeys = map[string]bool{"messages": true, "stream": true, "stream_options": true}

// Provider talks to any server exposing the OpenAI Chat Completions API.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compat"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.HTTPClient(timeout),
		Logger: logger.With(zap.String("component", "openaicompat"), zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, apiKey)
		return
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.Cfg.BaseURL, "/") + path
}

func (p *Provider) chooseModel(req *llm.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.Cfg.DefaultModel
}

// HealthCheck verifies the provider is reachable.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, upstreamError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// buildPayload encodes the request body. Extra entries are merged last with
// sjson, so a key such as "response_format.type" sets a nested field.
func (p *Provider) buildPayload(req *llm.ChatRequest, stream bool) ([]byte, error) {
	body := wireRequest{
		Model:       p.chooseModel(req),
		Messages:    toWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	keys := make([]string, 0, len(req.Extra))
	for k := range req.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		root, _, _ := strings.Cut(k, ".")
		if reservedKeys[root] {
			p.Logger.Debug("ignoring reserved extra option", zap.String("key", k))
			continue
		}
		payload, err = sjson.SetBytes(payload, k, req.Extra[k])
		if err != nil {
			return nil, fmt.Errorf("merge extra option %q: %w", k, err)
		}
	}
	return payload, nil
}

func (p *Provider) send(ctx context.Context, req *llm.ChatRequest, stream bool) (*http.Response, error) {
	if req == nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "nil request", HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	payload, err := p.buildPayload(req, stream)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)
	if req.TraceID != "" {
		httpReq.Header.Set("X-Request-ID", req.TraceID)
	}

	p.Logger.Debug("sending chat request",
		zap.String("trace_id", req.TraceID),
		zap.String("model", p.chooseModel(req)),
		zap.Bool("stream", stream),
		zap.Int("payload_bytes", len(payload)))

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, upstreamError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}
	return resp, nil
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req != nil && req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := p.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var w wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, upstreamError(fmt.Errorf("decode response: %w", err), p.Name())
	}

	result := toChatResponse(w, p.Name())
	if w.Created != 0 {
		result.CreatedAt = time.Unix(w.Created, 0)
	}
	return result, nil
}

// Stream performs a streaming chat completion via SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.send(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return StreamSSE(ctx, resp.Body, p.Name()), nil
}

// StreamSSE parses an SSE stream from an OpenAI-compatible API and returns a
// channel of StreamChunks. The channel is closed after "[DONE]", at end of
// body, after an error chunk, or once ctx is done; body is closed with it.
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)
		// Unblock a pending read once the caller walks away.
		stop := context.AfterFunc(ctx, func() { _ = body.Close() })
		defer stop()

		send := func(chunk llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil && (err != io.EOF || line == "") {
				if err != io.EOF && ctx.Err() == nil {
					send(llm.StreamChunk{Provider: providerName, Err: upstreamError(err, providerName)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var w wireResponse
			if err := json.Unmarshal([]byte(data), &w); err != nil {
				send(llm.StreamChunk{Provider: providerName, Err: upstreamError(fmt.Errorf("decode stream event: %w", err), providerName)})
				return
			}

			if len(w.Choices) == 0 && w.Usage != nil {
				if !send(llm.StreamChunk{ID: w.ID, Provider: providerName, Model: w.Model, Usage: w.Usage.toLLM()}) {
					return
				}
				continue
			}
			for _, choice := range w.Choices {
				chunk := llm.StreamChunk{
					ID:           w.ID,
					Provider:     providerName,
					Model:        w.Model,
					Index:        choice.Index,
					FinishReason: choice.FinishReason,
					Delta:        llm.Message{Role: llm.RoleAssistant},
					Usage:        w.Usage.toLLM(),
				}
				if choice.Delta != nil {
					chunk.Delta.Content = choice.Delta.Content
				}
				if !send(chunk) {
					return
				}
			}
		}
	}()
	return ch
}
