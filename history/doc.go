// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
包 history 提供可选的预测审计记录，基于 GORM 持久化到
sqlite（纯 Go 驱动）、PostgreSQL 或 MySQL。

# 概述

每次预测结束后，predict 包可以把输入、原始回复、解析结果、
缺失字段与数值回退字段写成一条 PredictionRecord。写入在事务中执行，
遇到死锁、序列化失败等瞬时错误时按指数退避重试。

# 主要类型

  - PredictionRecord：审计记录模型，map 与切片字段以 JSON 序列化存储。
  - Store：Record/Get/List/Prune/Close。
  - Config：驱动、DSN、连接池与重试配置。
  - Filter：List 的过滤条件，结果按创建时间倒序。

# 典型用法

	store, err := history.Open(history.Config{Driver: "sqlite", DSN: "promptflow.db"}, logger)
	if err != nil {
	    return err
	}
	defer store.Close()
	recent, err := store.List(ctx, history.Filter{Status: history.StatusValidationFailed, Limit: 20})
*/
package history
