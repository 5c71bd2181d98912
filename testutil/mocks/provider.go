// Package mocks provides a scripted llm.Provider for tests.
//
// 回复由脚本描述：一段完整文本、可选的分块、分块间隔与流末尾的错误块。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/promptflow/llm"
)

// ErrFailAfter 是超过 WithFailAfter 限额后每次调用返回的错误
var ErrFailAfter = errors.New("mock provider: call limit reached")

// script 描述 MockProvider 每次调用产出的回复
type script struct {
	reply  string
	chunks []string // 为空时整段 reply 作为一个块
	delay  time.Duration
	tail   *llm.Error // 所有块之后追加的错误块
	usage  llm.ChatUsage
}

// pieces 返回本次流式调用要发送的块，调用方可自由修改
func (s script) pieces() []string {
	if len(s.chunks) == 0 {
		return []string{s.reply}
	}
	return append([]string(nil), s.chunks...)
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Stream   bool
	Error    error
}

// MockProvider 是按脚本回复的 llm.Provider
type MockProvider struct {
	mu sync.Mutex

	name      string
	script    script
	err       error
	failAfter int
	complete  func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	calls []MockProviderCall
}

// NewMockProvider 创建回复 "Mock response" 的 Provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name: "mock",
		script: script{
			reply: "Mock response",
			usage: llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		},
	}
}

func (m *MockProvider) edit(fn func(m *MockProvider)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
	return m
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	return m.edit(func(m *MockProvider) { m.name = name })
}

// WithResponse 设置完整回复文本
func (m *MockProvider) WithResponse(reply string) *MockProvider {
	return m.edit(func(m *MockProvider) { m.script.reply = reply })
}

// WithStreamChunks 设置流式调用发送的块
func (m *MockProvider) WithStreamChunks(chunks []string) *MockProvider {
	return m.edit(func(m *MockProvider) { m.script.chunks = chunks })
}

// WithChunkDelay 设置每个块之前的等待时间
func (m *MockProvider) WithChunkDelay(d time.Duration) *MockProvider {
	return m.edit(func(m *MockProvider) { m.script.delay = d })
}

// WithStreamError 在所有块之后追加一个错误块
func (m *MockProvider) WithStreamError(err *llm.Error) *MockProvider {
	return m.edit(func(m *MockProvider) { m.script.tail = err })
}

// WithTokenUsage 设置同步回复的 Token 用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	return m.edit(func(m *MockProvider) {
		m.script.usage = llm.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	})
}

// WithError 让每次调用都返回 err
func (m *MockProvider) WithError(err error) *MockProvider {
	return m.edit(func(m *MockProvider) { m.err = err })
}

// WithFailAfter 前 n 次调用按脚本回复，之后返回 ErrFailAfter
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	return m.edit(func(m *MockProvider) { m.failAfter = n })
}

// WithCompletionFunc 用 fn 代替脚本生成同步回复
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	return m.edit(func(m *MockProvider) { m.complete = fn })
}

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// HealthCheck 总是健康
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// admit 判断第 len(calls)+1 次调用是否失败。调用方持有锁。
func (m *MockProvider) admit() error {
	if m.failAfter > 0 && len(m.calls) >= m.failAfter {
		return ErrFailAfter
	}
	return m.err
}

// Completion 按脚本返回完整回复
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := MockProviderCall{Request: req}
	defer func() { m.calls = append(m.calls, call) }()

	if call.Error = m.admit(); call.Error != nil {
		return nil, call.Error
	}
	if m.complete != nil {
		call.Response, call.Error = m.complete(ctx, req)
		return call.Response, call.Error
	}

	call.Response = &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: m.name,
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: m.script.reply},
		}},
		Usage:     m.script.usage,
		CreatedAt: time.Now(),
	}
	return call.Response, nil
}

// Stream 按脚本逐块发送回复；ctx 取消后停止发送并关闭通道
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := MockProviderCall{Request: req, Stream: true, Error: m.admit()}
	m.calls = append(m.calls, call)
	if call.Error != nil {
		return nil, call.Error
	}

	ch := make(chan llm.StreamChunk)
	go play(ctx, ch, m.script, m.name, req.Model)
	return ch, nil
}

// play 将 s 的块写入 ch，完成后关闭 ch
func play(ctx context.Context, ch chan<- llm.StreamChunk, s script, provider, model string) {
	defer close(ch)

	emit := func(c llm.StreamChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	pieces := s.pieces()
	for i, text := range pieces {
		if s.delay > 0 {
			t := time.NewTimer(s.delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
		c := llm.StreamChunk{
			ID:       "mock-chunk-id",
			Provider: provider,
			Model:    model,
			Index:    i,
			Delta:    llm.Message{Role: llm.RoleAssistant, Content: text},
		}
		if i == len(pieces)-1 && s.tail == nil {
			c.FinishReason = "stop"
		}
		if !emit(c) {
			return
		}
	}
	if s.tail != nil {
		emit(llm.StreamChunk{Provider: provider, Err: s.tail})
	}
}

// GetCalls 返回调用记录的副本
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// GetCallCount 返回调用次数，包括失败的调用
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetLastCall 返回最后一次调用，没有调用时返回 nil
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// NewSuccessProvider 创建总是回复 reply 的 Provider
func NewSuccessProvider(reply string) *MockProvider {
	return NewMockProvider().WithResponse(reply)
}

// NewErrorProvider 创建总是失败的 Provider
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewStreamProvider 创建逐块发送 chunks 的 Provider
func NewStreamProvider(chunks []string) *MockProvider {
	return NewMockProvider().WithStreamChunks(chunks)
}

// NewFlakeyProvider 创建前 n 次回复 reply、之后失败的 Provider
func NewFlakeyProvider(n int, reply string) *MockProvider {
	return NewMockProvider().WithResponse(reply).WithFailAfter(n)
}
