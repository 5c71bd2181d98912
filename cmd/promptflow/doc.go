// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
Package main 提供 promptflow 命令行程序入口。

# 概述

cmd/promptflow 把结构化提示词协议的各部分组装成一个可执行程序：
从 YAML/JSON 加载模块定义，编译或渲染提示词，并对 OpenAI 兼容端点
执行批量或流式预测。

# 子命令

  - compile：输出模块的提示词模板，-watch 时随文件变更重新编译
  - render ：用给定输入渲染完整提示词
  - predict：执行预测，-stream 时逐行输出 JSON 格式的增量更新
  - history：查询或清理预测审计记录
  - version：显示构建注入的版本信息

# 运行时装配

配置经 config.Loader 加载后依次初始化：zap 日志、OpenTelemetry、
openaicompat 传输层、可选的多级回复缓存（本地 LRU + Redis）、
可选的 GORM 审计存储以及 Prometheus 指标注册表。
可选后端不可用时只记录警告，预测照常进行。
*/
package main
