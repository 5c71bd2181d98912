package openaicompat

import (
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/promptflow/llm"
)

// Chat Completions wire types. Only the fields a single-turn text exchange
// needs are modelled; anything else travels through ChatRequest.Extra.

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type wireRequest struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float32        `json:"temperature,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      wireMessage  `json:"message"`
	Delta        *wireMessage `json:"delta,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
	Created int64        `json:"created,omitempty"`
}

func toWireMessages(msgs []llm.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content, Name: m.Name})
	}
	return out
}

func (u *wireUsage) toLLM() *llm.ChatUsage {
	if u == nil {
		return nil
	}
	return &llm.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func toChatResponse(w wireResponse, provider string) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(w.Choices))
	for _, c := range w.Choices {
		choices = append(choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message: llm.Message{
				Role:    llm.RoleAssistant,
				Content: c.Message.Content,
				Name:    c.Message.Name,
			},
		})
	}
	resp := &llm.ChatResponse{
		ID:       w.ID,
		Provider: provider,
		Model:    w.Model,
		Choices:  choices,
	}
	if u := w.Usage.toLLM(); u != nil {
		resp.Usage = *u
	}
	return resp
}

// mapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 llm.Error
func mapHTTPError(status int, msg, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch {
	case status == http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case status == http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case status == http.StatusTooManyRequests:
		e.Code, e.Retryable = llm.ErrRateLimited, true
	case status == http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = llm.ErrQuotaExceeded
		} else {
			e.Code = llm.ErrInvalidRequest
		}
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		e.Code, e.Retryable = llm.ErrUpstreamTimeout, true
	case status == 529:
		e.Code, e.Retryable = llm.ErrModelOverloaded, true
	default:
		e.Code, e.Retryable = llm.ErrUpstreamError, status >= 500
	}
	return e
}

// readErrorMessage 读取响应体中的错误消息，无法识别时回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	if msg := gjson.GetBytes(data, "error.message"); msg.Exists() && msg.String() != "" {
		if typ := gjson.GetBytes(data, "error.type").String(); typ != "" {
			return msg.String() + " (type: " + typ + ")"
		}
		return msg.String()
	}
	return strings.TrimSpace(string(data))
}

func upstreamError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
	}
}
