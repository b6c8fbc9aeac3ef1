// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Providers     []ProviderConfig    `mapstructure:"providers"`
	Workflow      WorkflowConfig      `mapstructure:"workflow"`
	Attachments   AttachmentConfig    `mapstructure:"attachments"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// TikaConfig 存储 Tika 服务器的配置，为空时不从文档附件中提取文本。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// EmbeddingConfig 存储 Embedding 模型的配置，为空时提示词库只做全文检索。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// Enabled 判断是否配置了 Embedding 模型。
func (e EmbeddingConfig) Enabled() bool {
	return e.BaseURL != "" && e.Model != "" && e.Dimensions > 0
}

// LLMConfig 存储大语言模型调用的公共配置。
type LLMConfig struct {
	DefaultProvider string `mapstructure:"default_provider"`
	DefaultModel    string `mapstructure:"default_model"`
	// RequestTimeoutSeconds 为 0 时不设超时，调用只由用户中断取消；大于 0 时只约束非流式调用。
	RequestTimeoutSeconds int                 `mapstructure:"request_timeout_seconds"`
	Generation            LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ProviderConfig 描述一个可调用的模型服务商。
// Type 取值: openai-compatible | openai | anthropic | mock
type ProviderConfig struct {
	ID      string        `mapstructure:"id"`
	Name    string        `mapstructure:"name"`
	Type    string        `mapstructure:"type"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Models  []ModelConfig `mapstructure:"models"`
}

// ModelConfig 描述服务商下的单个模型。
type ModelConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// WorkflowConfig 配置生成流水线的行为。
type WorkflowConfig struct {
	// AutoStartDelayMs 是 AI 决定生成需求报告后、自动启动流水线前的停顿，只用于界面节奏。
	AutoStartDelayMs  int            `mapstructure:"auto_start_delay_ms"`
	Streaming         bool           `mapstructure:"streaming"`
	DefaultLanguage   string         `mapstructure:"default_language"`
	DefaultPromptType string         `mapstructure:"default_prompt_type"`
	Triggers          TriggersConfig `mapstructure:"triggers"`
}

// AutoStartDelay 以 time.Duration 形式返回自动启动延迟。
func (w WorkflowConfig) AutoStartDelay() time.Duration {
	return time.Duration(w.AutoStartDelayMs) * time.Millisecond
}

// TriggersConfig 是与引导系统提示词配套的触发短语。
// 修改引导提示词的措辞时必须同步修改这里，否则自动生成会静默失效。
type TriggersConfig struct {
	ForceKeywords   []string `mapstructure:"force_keywords"`
	DecisionPhrases []string `mapstructure:"decision_phrases"`
}

// AttachmentConfig 配置附件上传。
type AttachmentConfig struct {
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	Prefix    string `mapstructure:"prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("kafka.topic", "prompt-library")
	v.SetDefault("kafka.group_id", "prompt-forge-indexer")
	v.SetDefault("elasticsearch.index_name", "prompt_library")
	v.SetDefault("minio.bucket_name", "prompt-forge")
	v.SetDefault("llm.request_timeout_seconds", 0)
	v.SetDefault("workflow.auto_start_delay_ms", 800)
	v.SetDefault("workflow.streaming", true)
	v.SetDefault("workflow.default_language", "zh")
	v.SetDefault("workflow.default_prompt_type", "system")
	v.SetDefault("attachments.max_size_mb", 10)
	v.SetDefault("attachments.prefix", "attachments")
}

// Load 从指定路径读取 YAML 配置，环境变量 PROMPTFORGE_* 可覆盖同名键。
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PROMPTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
