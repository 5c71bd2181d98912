// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
包 cache 为批量预测提供回复缓存：相同的提示词与选项命中缓存时
直接复用上次的模型回复，跳过一次传输调用。

# 概述

缓存分两级：进程内 LRU 作为 L1，Redis 作为可选的 L2。L2 命中会回填 L1；
Redis 故障只会退化为未命中，不会让预测失败。只缓存完整回复文本，
解析与校验每次都重新执行，因此缓存内容与字段定义无关。

# 主要类型

  - ReplyCache：Get/Set/Delete/GenerateKey 接口。
  - MultiLevelCache：L1 LRU + L2 Redis 的实现，支持按模型批量失效。
  - KeyStrategy：缓存键策略。HashKeyStrategy 生成扁平键，
    ModelKeyStrategy 生成 reply:{model}:{hash} 以便按模型失效。
  - LRUCache：O(1) 的本地 LRU，条目带 TTL，读写均复制条目。

# 使用方式

	rdb, err := cache.NewRedisClient(ctx, cache.RedisOptions{Addr: "localhost:6379"})
	c := cache.NewMultiLevelCache(rdb, cache.DefaultConfig(), logger)
	key := c.GenerateKey(chatReq)
	entry, err := c.Get(ctx, key)
*/
package cache
