package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/promptflow/llm"
)

// TiktokenTokenizer counts tokens exactly for OpenAI model families.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// modelEncodings maps model name prefixes to their tiktoken encoding and context size.
var modelEncodings = map[string]encodingInfo{
	"gpt-4.1":       {encoding: "o200k_base", maxTokens: 1047576},
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":   {encoding: "o200k_base", maxTokens: 128000},
	"o1":            {encoding: "o200k_base", maxTokens: 200000},
	"o3":            {encoding: "o200k_base", maxTokens: 200000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

func lookupEncoding(model string) (encodingInfo, bool) {
	if info, ok := modelEncodings[model]; ok {
		return info, true
	}
	var best string
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return encodingInfo{encoding: "cl100k_base", maxTokens: 8192}, false
	}
	return modelEncodings[best], true
}

// NewTiktokenTokenizer creates a tokenizer for model. Unknown models use
// cl100k_base. The encoding is loaded on first use.
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info, _ := lookupEncoding(model)
	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init lazily loads the encoding; tiktoken may download its BPE ranks here.
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []llm.Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		// <|start|>role\n content<|end|>\n
		total += 4
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(string(msg.Role), nil, nil))
	}
	return total + 3, nil
}

func (t *TiktokenTokenizer) MaxTokens() int { return t.maxTokens }

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// ForModel returns the tokenizer a prediction against model should use: the
// registered one if any, tiktoken with estimator fallback for OpenAI families,
// otherwise the estimator.
func ForModel(model string) Tokenizer {
	if t, err := GetTokenizer(model); err == nil {
		return t
	}
	if _, known := lookupEncoding(model); known {
		return NewFallback(NewTiktokenTokenizer(model), nil)
	}
	return NewEstimatorTokenizer(model, 0)
}
