// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
# 概述

包 predict 把 signature 模块、输入值与调用选项组合成一次完整的预测：
归一化模块 → 校验输入 → 渲染提示词 → 调用 llm.Provider →
解析分隔符回复 → 校验输出。批量与流式两种模式共享同一套流程。

# 批量预测

Predict 返回按声明顺序排列的输出映射；PredictDetailed 额外返回
缺失字段、数值回退字段、原始回复、Token 用量与缓存命中情况。
配置了 cache.ReplyCache 时，确定性请求（温度为 0）的回复会被缓存复用。

# 流式预测

PredictStream 启动两个协程（errgroup 管理）：

  - 泵协程从 Provider 的流通道读取增量文本，写入 streaming.BackpressureStream
  - 消费协程驱动 Reassembler，对整个缓冲区重新解析并按防抖窗口发送 StreamUpdate

Reassembler 是 waiting → emitting → done 的状态机。已有值的字段不会回退为 nil；
两次中间发送之间至少间隔 DebounceMs，流结束时的最终发送不受窗口限制。
输出校验只作用于最终发送。Stream.Close 或 ctx 取消会尽快停止读取上游。

# 校验

ValidateAgainst 通过 Engine（默认 schema.DefaultValidator）检查映射，
失败时返回 *ValidationError，携带失败的一侧、原始值与诊断信息。
Options.Validate 为 false 时完全跳过校验；未配置 Schema 的一侧直接放行。

# 可观测性

每次预测产生一个 OTel span（predict.batch / predict.stream）与 OTel 计数器，
Prometheus 指标通过 MetricsRecorder（internal/metrics.Collector）上报，
审计记录通过 Recorder（history.Store）写入数据库。

# 典型用法

	p, err := predict.New(provider, predict.WithLogger(logger))
	if err != nil {
	    return err
	}
	values, err := p.Predict(ctx, module, map[string]any{"question": "2+2?"}, predict.Options{})

	stream, err := p.PredictStream(ctx, module, inputs, predict.Options{DebounceMs: predict.Int(100)})
	if err != nil {
	    return err
	}
	for u := range stream.Updates() {
	    render(u.Values)
	}
*/
package predict
