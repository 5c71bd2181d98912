// Package openaicompat implements llm.Provider for any server that speaks the
// OpenAI Chat Completions API: OpenAI itself, DeepSeek, Qwen, vLLM, Ollama and
// similar gateways.
//
// Completion posts a JSON body and returns the first choice; Stream requests
// an SSE response and forwards each delta as an llm.StreamChunk. Options the
// caller passes through ChatRequest.Extra are merged into the request body,
// where a dotted key addresses a nested field.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o-mini",
//	}, logger)
package openaicompat
