package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 PromptFlow 的完整配置结构
type Config struct {
	// LLM 传输层配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Predict 预测默认选项
	Predict PredictConfig `yaml:"predict" env:"PREDICT"`

	// Cache 回复缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// History 预测审计记录配置
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// LLMConfig 描述一个 OpenAI 兼容端点
type LLMConfig struct {
	// Provider 名称，仅用于日志、指标与审计记录
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Chat Completions 路径（可选）
	EndpointPath string `yaml:"endpoint_path" env:"ENDPOINT_PATH"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PredictConfig 预测默认选项
type PredictConfig struct {
	// 是否校验输入/输出 Schema
	Validate bool `yaml:"validate" env:"VALIDATE"`
	// 流式发送的最小间隔（毫秒）
	DebounceMs int `yaml:"debounce_ms" env:"DEBOUNCE_MS"`
	// 传输层与重组器之间的队列容量
	StreamBuffer int `yaml:"stream_buffer" env:"STREAM_BUFFER"`
	// 透传给传输层的额外选项，环境变量取 YAML/JSON 对象
	Extra map[string]any `yaml:"extra" env:"EXTRA"`
}

// CacheConfig 回复缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 缓存键策略: hash, model
	KeyStrategy string `yaml:"key_strategy" env:"KEY_STRATEGY"`
	// 本地 LRU 最大条目数
	LocalMaxSize int `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	// 本地条目 TTL
	LocalTTL time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	// Redis 层配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用 Redis 层
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 是否使用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 条目 TTL
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// HistoryConfig 审计记录数据库配置
type HistoryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 完整 DSN，设置后忽略下面的分项
	DSN string `yaml:"dsn" env:"DSN"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 下为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 写入事务的最大尝试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 记录保留时长，0 表示不清理
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器，默认读取 PROMPTFLOW_* 环境变量
func NewLoader() *Loader {
	return &Loader{envPrefix: "PROMPTFLOW", lookupEnv: os.LookupEnv}
}

// WithConfigPath 设置 YAML 文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithLookupEnv 替换环境变量来源，nil 恢复为 os.LookupEnv
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	if fn == nil {
		fn = os.LookupEnv
	}
	l.lookupEnv = fn
	return l
}

// WithValidator 追加一个在所有覆盖层之后运行的验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 依次叠加默认值、YAML 文件与环境变量，然后运行验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	overlays := []struct {
		source string
		apply  func(*Config) error
	}{
		{"file", l.overlayFile},
		{"env", l.overlayEnv},
	}
	for _, o := range overlays {
		if err := o.apply(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", o.source, err)
		}
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// overlayFile 将 YAML 文件叠加到 cfg 上；未设置路径或文件不存在时不做任何事
func (l *Loader) overlayFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

// overlayEnv 将已设置且非空的环境变量写入对应字段
func (l *Loader) overlayEnv(cfg *Config) error {
	for _, b := range envBindings(reflect.ValueOf(cfg).Elem(), l.envPrefix) {
		raw, ok := l.lookupEnv(b.key)
		if !ok || raw == "" {
			continue
		}
		if err := decodeEnv(b.field, raw); err != nil {
			return fmt.Errorf("%s=%q: %w", b.key, raw, err)
		}
	}
	return nil
}

// envBinding 将一个环境变量名绑定到一个配置字段
type envBinding struct {
	key   string
	field reflect.Value
}

// envBindings 展开 v 中所有带 env 标签的叶子字段，键名为 PREFIX_SECTION_FIELD
func envBindings(v reflect.Value, prefix string) []envBinding {
	var out []envBinding
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if f := v.Field(i); f.Kind() == reflect.Struct {
			out = append(out, envBindings(f, key)...)
		} else {
			out = append(out, envBinding{key: key, field: f})
		}
	}
	return out
}

var durationType = reflect.TypeOf(time.Duration(0))

// decodeEnv 按字段类型解析 raw 并写入 field
func decodeEnv(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	case reflect.Map:
		// 映射使用 YAML 流式写法，JSON 对象同样可用
		m := reflect.New(field.Type())
		if err := yaml.Unmarshal([]byte(raw), m.Interface()); err != nil {
			return err
		}
		field.Set(m.Elem())
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载并验证配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

var (
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats  = map[string]bool{"json": true, "console": true}
	validKeyStrategy = map[string]bool{"hash": true, "model": true}
	validDrivers     = map[string]bool{"sqlite": true, "postgres": true, "postgresql": true, "mysql": true}
)

// problems 收集验证错误，键名使用 YAML 路径
type problems []string

func (p *problems) add(msg string) { *p = append(*p, msg) }

// Validate 逐段检查配置，一次报告全部错误
func (c *Config) Validate() error {
	var p problems
	c.LLM.check(&p)
	c.Predict.check(&p)
	c.Cache.check(&p)
	c.History.check(&p)
	c.Log.check(&p)
	c.Metrics.check(&p)
	c.Telemetry.check(&p)

	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("config validation errors: %s", strings.Join(p, "; "))
}

func (c LLMConfig) check(p *problems) {
	if c.BaseURL == "" {
		p.add("llm.base_url is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		p.add("llm.base_url must be an absolute URL")
	}
	if c.Timeout < 0 {
		p.add("llm.timeout must not be negative")
	}
}

func (c PredictConfig) check(p *problems) {
	if c.DebounceMs < 0 {
		p.add("predict.debounce_ms must not be negative")
	}
	if c.StreamBuffer <= 0 {
		p.add("predict.stream_buffer must be positive")
	}
}

// check 仅在缓存启用时生效
func (c CacheConfig) check(p *problems) {
	if !c.Enabled {
		return
	}
	if !validKeyStrategy[c.KeyStrategy] {
		p.add("cache.key_strategy must be hash or model")
	}
	if c.LocalMaxSize <= 0 {
		p.add("cache.local_max_size must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		p.add("cache.redis.addr is required when redis is enabled")
	}
}

func (c HistoryConfig) check(p *problems) {
	if !c.Enabled {
		return
	}
	if !validDrivers[strings.ToLower(c.Driver)] {
		p.add("history.driver must be sqlite, postgres or mysql")
	}
	if c.ConnectionString() == "" {
		p.add("history.dsn or history.name is required")
	}
}

func (c LogConfig) check(p *problems) {
	if !validLogLevels[c.Level] {
		p.add("log.level must be debug, info, warn or error")
	}
	if !validLogFormats[c.Format] {
		p.add("log.format must be json or console")
	}
}

func (c MetricsConfig) check(p *problems) {
	if c.Enabled && c.Namespace == "" {
		p.add("metrics.namespace is required when metrics are enabled")
	}
}

func (c TelemetryConfig) check(p *problems) {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		p.add("telemetry.sample_rate must be between 0 and 1")
	}
	if c.Enabled && c.OTLPEndpoint == "" {
		p.add("telemetry.otlp_endpoint is required when telemetry is enabled")
	}
}

// ConnectionString 返回数据库连接字符串；显式 DSN 优先
func (h *HistoryConfig) ConnectionString() string {
	if h.DSN != "" {
		return h.DSN
	}
	switch strings.ToLower(h.Driver) {
	case "postgres", "postgresql":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			h.Host, h.Port, h.User, h.Password, h.Name, h.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			h.User, h.Password, h.Host, h.Port, h.Name,
		)
	case "sqlite":
		return h.Name
	default:
		return ""
	}
}
