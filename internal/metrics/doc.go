// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
包 metrics 提供基于 Prometheus 的预测指标采集能力。

# 概述

Collector 通过 promauto.With 把所有指标注册到调用方给定的
Registerer（nil 时为默认 Registerer），并按 namespace 隔离。
predict 包通过接口依赖它，cmd/promptflow 负责装配。

# 主要能力

  - 预测指标：按 provider/mode/status 统计预测次数与耗时，
    按 side 统计 schema 校验失败。
  - 解析指标：按字段统计数值回退为原始文本、最终回复缺失字段。
  - 流式指标：partial/final 推送次数，被去抖窗口压下的变化次数。
  - LLM 指标：prompt/completion token 用量。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：历史记录写入耗时。
*/
package metrics
