// Package tlsutil 提供集中式 TLS 配置，
// 为模型 HTTP 客户端与 Redis 回复缓存提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
