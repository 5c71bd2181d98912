package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/promptflow/llm"
)

// KeyStrategy 缓存键生成策略接口
type KeyStrategy interface {
	// GenerateKey 生成缓存键
	GenerateKey(req *llm.ChatRequest) string

	// Name 返回策略名称（用于日志和调试）
	Name() string
}

// keyMaterial is the part of a request that determines the reply. Trace ids,
// timeouts and metadata do not.
type keyMaterial struct {
	Model       string         `json:"model"`
	Messages    []llm.Message  `json:"messages"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float32        `json:"temperature,omitempty"`
	Stop        []string       `json:"stop,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

func requestDigest(req *llm.ChatRequest, size int) string {
	data, err := json.Marshal(keyMaterial{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Extra:       req.Extra,
	})
	if err != nil {
		// fallback: 使用 fmt.Sprintf 生成确定性字符串避免 key 碰撞
		data = []byte(fmt.Sprintf("%v|%v|%v", req.Model, req.Messages, req.Extra))
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:size])
}

// HashKeyStrategy hashes the whole request into one flat key.
type HashKeyStrategy struct{}

// NewHashKeyStrategy 创建 Hash 策略
func NewHashKeyStrategy() *HashKeyStrategy { return &HashKeyStrategy{} }

// Name 返回策略名称
func (s *HashKeyStrategy) Name() string { return "hash" }

// GenerateKey 生成 Hash 缓存键
func (s *HashKeyStrategy) GenerateKey(req *llm.ChatRequest) string {
	return "reply:" + requestDigest(req, 16)
}

// ModelKeyStrategy 按模型分层的缓存键策略
// 格式：reply:{model}:{hash}，便于按模型批量失效
type ModelKeyStrategy struct{}

// NewModelKeyStrategy 创建按模型分层的策略
func NewModelKeyStrategy() *ModelKeyStrategy { return &ModelKeyStrategy{} }

// Name 返回策略名称
func (s *ModelKeyStrategy) Name() string { return "model" }

// GenerateKey 生成 reply:{model}:{hash} 形式的缓存键
func (s *ModelKeyStrategy) GenerateKey(req *llm.ChatRequest) string {
	model := req.Model
	if model == "" {
		model = "default"
	}
	return fmt.Sprintf("reply:%s:%s", model, requestDigest(req, 12))
}
