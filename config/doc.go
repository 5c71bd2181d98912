// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

// Package config 提供 PromptFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → PROMPTFLOW_* 环境变量 的顺序叠加，
// 最后运行注册的验证器。环境变量键由 env 标签拼接而成，
// 例如 PROMPTFLOW_CACHE_REDIS_ADDR 对应 cache.redis.addr。
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("promptflow.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
package config
