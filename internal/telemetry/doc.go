// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 promptflow 命令行提供 OTLP gRPC 导出的 TracerProvider 和 MeterProvider，
// 交给 predict.WithTracerProvider / WithMeterProvider 使用。
// 当遥测功能禁用时返回全局 provider，不连接任何外部服务。
package telemetry
