package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/promptflow/llm"
)

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，
	// 包括每条消息的开销（角色标记、分隔符等）
	CountMessages(messages []llm.Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度
	MaxTokens() int

	// Name 返回分词器的名称
	Name() string
}

// 全局分词器注册表
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer 为给定的模型名称（或名称前缀）注册分词器
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// GetTokenizer returns the tokenizer registered for model, falling back to
// the longest registered prefix ("gpt-4o-2024-08-06" resolves to "gpt-4o").
func GetTokenizer(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}
	var best string
	for prefix := range modelTokenizers {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelTokenizers[best], nil
	}
	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetTokenizerOrEstimator 返回该模型已注册的分词器，未注册时回退到估算器
func GetTokenizerOrEstimator(model string) Tokenizer {
	t, err := GetTokenizer(model)
	if err != nil {
		return NewEstimatorTokenizer(model, 0)
	}
	return t
}

// Fallback wraps a precise tokenizer and answers with the estimator whenever
// the precise one fails, e.g. when tiktoken cannot load its encoding offline.
type Fallback struct {
	primary   Tokenizer
	estimator *EstimatorTokenizer
	logger    *zap.Logger
	warnOnce  sync.Once
}

// NewFallback 创建带估算回退的分词器
func NewFallback(primary Tokenizer, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		primary:   primary,
		estimator: NewEstimatorTokenizer("", primary.MaxTokens()),
		logger:    logger.With(zap.String("component", "tokenizer")),
	}
}

func (f *Fallback) degrade(err error) {
	f.warnOnce.Do(func() {
		f.logger.Warn("precise tokenizer unavailable, using estimator",
			zap.String("tokenizer", f.primary.Name()), zap.Error(err))
	})
}

func (f *Fallback) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err != nil {
		f.degrade(err)
		return f.estimator.CountTokens(text)
	}
	return n, nil
}

func (f *Fallback) CountMessages(messages []llm.Message) (int, error) {
	n, err := f.primary.CountMessages(messages)
	if err != nil {
		f.degrade(err)
		return f.estimator.CountMessages(messages)
	}
	return n, nil
}

func (f *Fallback) MaxTokens() int { return f.primary.MaxTokens() }

func (f *Fallback) Name() string { return f.primary.Name() + "+estimator" }
