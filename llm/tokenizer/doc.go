// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

// Package tokenizer 提供统一的 token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于统计编译后提示词的 token 数。
package tokenizer
