// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
包 llm 定义提示词协议与语言模型服务之间的传输层边界。

# 概述

predict 包只依赖本包的 [Provider] 接口：同步调用返回完整回复文本，
流式调用返回增量分片通道，通道关闭即代表流结束。模型选择、重试、
鉴权均由具体 Provider 实现负责，不属于协议核心。

# 核心接口

  - [Provider]：提供 Completion / Stream / HealthCheck / Name

# 核心类型

  - [ChatRequest] / [ChatResponse]：单轮请求与响应，Extra 字段透传
    调用方提供的额外参数
  - [StreamChunk]：流式输出分片，Err 非空时为最后一个分片
  - [Error] / [ErrorCode]：统一错误码，携带 HTTP 状态与可重试标记

# 相关子包

- llm/providers/openaicompat：OpenAI 兼容 HTTP 接口实现（JSON + SSE）。
- llm/streaming：带背压的有界分片队列。
- llm/cache：本地 LRU + Redis 两级回复缓存。
- llm/tokenizer：提示词 Token 计数。
*/
package llm
