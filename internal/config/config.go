package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Redis     RedisConfig
	Knowledge KnowledgeConfig
	Generator GeneratorConfig
}

type ServerConfig struct {
	Env string
}

type AIConfig struct {
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	RequestTimeout int // 秒
}

type RedisConfig struct {
	Host    string
	Port    string
	DB      int
	Enabled bool
	TTL     int // 秒
}

type KnowledgeConfig struct {
	Collection  string
	VectorStore VectorStoreConfig
	Embedding   EmbeddingConfig
	Retrieval   RetrievalConfig
}

type VectorStoreConfig struct {
	Provider string // qdrant | milvus | memory
	Qdrant   QdrantConfig
	Milvus   MilvusConfig
}

type QdrantConfig struct {
	Endpoint   string
	APIKey     string
	VectorSize int
	Distance   string
	TLS        bool
	Timeout    int // 秒
}

type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	Database   string
	TLS        bool
	VectorSize int
	Distance   string
}

type EmbeddingConfig struct {
	BatchSize    int
	CacheEnabled bool
}

type RetrievalConfig struct {
	TableLimit        int     // 一阶段表识别top-K
	DetailLimit       int     // 二阶段明细top-K
	RelationshipLimit int     // 关系块单独超量检索top-K
	ScoreThreshold    float64 // 低于该相似度的匹配被丢弃
	Timeout           int     // 秒
}

type GeneratorConfig struct {
	Dialect     string
	Temperature float64
	MaxTokens   int
	Timeout     int // 秒
}

var AppConfig *Config

func LoadConfig() error {
	// 设置默认值
	viper.SetDefault("server.env", "development")

	// AI配置默认值
	viper.SetDefault("ai.openai_base_url", "")
	viper.SetDefault("ai.chat_model", "gpt-4o-mini")
	viper.SetDefault("ai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("ai.max_tokens", 1024)
	viper.SetDefault("ai.temperature", 0.0)
	viper.SetDefault("ai.request_timeout", 30)

	// Redis配置默认值（嵌入缓存，默认关闭）
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.ttl", 3600)

	// 知识库配置默认值
	viper.SetDefault("knowledge.collection", "text2sql_schema")
	viper.SetDefault("knowledge.vector_store.provider", "qdrant")
	viper.SetDefault("knowledge.vector_store.qdrant.endpoint", "http://localhost:6333")
	viper.SetDefault("knowledge.vector_store.qdrant.vector_size", 1536)
	viper.SetDefault("knowledge.vector_store.qdrant.distance", "cosine")
	viper.SetDefault("knowledge.vector_store.qdrant.tls", false)
	viper.SetDefault("knowledge.vector_store.qdrant.timeout", 10)
	viper.SetDefault("knowledge.vector_store.milvus.address", "localhost:19530")
	viper.SetDefault("knowledge.vector_store.milvus.database", "default")
	viper.SetDefault("knowledge.vector_store.milvus.tls", false)
	viper.SetDefault("knowledge.vector_store.milvus.vector_size", 1536)
	viper.SetDefault("knowledge.vector_store.milvus.distance", "cosine")
	viper.SetDefault("knowledge.embedding.batch_size", 32)
	viper.SetDefault("knowledge.embedding.cache_enabled", false)
	viper.SetDefault("knowledge.retrieval.table_limit", 8)
	viper.SetDefault("knowledge.retrieval.detail_limit", 20)
	viper.SetDefault("knowledge.retrieval.relationship_limit", 30)
	viper.SetDefault("knowledge.retrieval.score_threshold", 0.0)
	viper.SetDefault("knowledge.retrieval.timeout", 10)

	// SQL生成配置默认值
	viper.SetDefault("generator.dialect", "postgresql")
	viper.SetDefault("generator.temperature", 0.0)
	viper.SetDefault("generator.max_tokens", 1024)
	viper.SetDefault("generator.timeout", 60)

	// 读取环境变量
	viper.SetEnvPrefix("TEXT2SQL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 常用环境变量的显式映射
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		viper.Set("ai.openai_api_key", key)
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		viper.Set("ai.openai_base_url", base)
	}
	if endpoint := os.Getenv("QDRANT_ENDPOINT"); endpoint != "" {
		viper.Set("knowledge.vector_store.qdrant.endpoint", endpoint)
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		viper.Set("knowledge.vector_store.qdrant.api_key", apiKey)
	}
	if addr := os.Getenv("MILVUS_ADDRESS"); addr != "" {
		viper.Set("knowledge.vector_store.milvus.address", addr)
		viper.Set("knowledge.vector_store.provider", "milvus")
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("redis.host", host)
		viper.Set("redis.enabled", true)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		viper.Set("redis.port", port)
	}

	// 配置文件可选，不存在时使用默认值+环境变量
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	AppConfig = buildConfig()

	// 热加载：检索参数等可调项随配置文件更新
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		AppConfig = buildConfig()
		zap.L().Info("config reloaded", zap.String("file", e.Name))
	})

	return nil
}

func buildConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Env: viper.GetString("server.env"),
		},
		AI: AIConfig{
			OpenAIAPIKey:   viper.GetString("ai.openai_api_key"),
			OpenAIBaseURL:  viper.GetString("ai.openai_base_url"),
			ChatModel:      viper.GetString("ai.chat_model"),
			EmbeddingModel: viper.GetString("ai.embedding_model"),
			MaxTokens:      viper.GetInt("ai.max_tokens"),
			Temperature:    viper.GetFloat64("ai.temperature"),
			RequestTimeout: viper.GetInt("ai.request_timeout"),
		},
		Redis: RedisConfig{
			Host:    viper.GetString("redis.host"),
			Port:    viper.GetString("redis.port"),
			DB:      viper.GetInt("redis.db"),
			Enabled: viper.GetBool("redis.enabled"),
			TTL:     viper.GetInt("redis.ttl"),
		},
		Knowledge: KnowledgeConfig{
			Collection: viper.GetString("knowledge.collection"),
			VectorStore: VectorStoreConfig{
				Provider: viper.GetString("knowledge.vector_store.provider"),
				Qdrant: QdrantConfig{
					Endpoint:   viper.GetString("knowledge.vector_store.qdrant.endpoint"),
					APIKey:     viper.GetString("knowledge.vector_store.qdrant.api_key"),
					VectorSize: viper.GetInt("knowledge.vector_store.qdrant.vector_size"),
					Distance:   viper.GetString("knowledge.vector_store.qdrant.distance"),
					TLS:        viper.GetBool("knowledge.vector_store.qdrant.tls"),
					Timeout:    viper.GetInt("knowledge.vector_store.qdrant.timeout"),
				},
				Milvus: MilvusConfig{
					Address:    viper.GetString("knowledge.vector_store.milvus.address"),
					Username:   viper.GetString("knowledge.vector_store.milvus.username"),
					Password:   viper.GetString("knowledge.vector_store.milvus.password"),
					Database:   viper.GetString("knowledge.vector_store.milvus.database"),
					TLS:        viper.GetBool("knowledge.vector_store.milvus.tls"),
					VectorSize: viper.GetInt("knowledge.vector_store.milvus.vector_size"),
					Distance:   viper.GetString("knowledge.vector_store.milvus.distance"),
				},
			},
			Embedding: EmbeddingConfig{
				BatchSize:    viper.GetInt("knowledge.embedding.batch_size"),
				CacheEnabled: viper.GetBool("knowledge.embedding.cache_enabled"),
			},
			Retrieval: RetrievalConfig{
				TableLimit:        viper.GetInt("knowledge.retrieval.table_limit"),
				DetailLimit:       viper.GetInt("knowledge.retrieval.detail_limit"),
				RelationshipLimit: viper.GetInt("knowledge.retrieval.relationship_limit"),
				ScoreThreshold:    viper.GetFloat64("knowledge.retrieval.score_threshold"),
				Timeout:           viper.GetInt("knowledge.retrieval.timeout"),
			},
		},
		Generator: GeneratorConfig{
			Dialect:     viper.GetString("generator.dialect"),
			Temperature: viper.GetFloat64("generator.temperature"),
			MaxTokens:   viper.GetInt("generator.max_tokens"),
			Timeout:     viper.GetInt("generator.timeout"),
		},
	}
}

// GetAppConfig 获取全局配置实例
func GetAppConfig() *Config {
	return AppConfig
}

// RetrievalTimeout 检索超时时间
func (c *Config) RetrievalTimeout() time.Duration {
	return time.Duration(c.Knowledge.Retrieval.Timeout) * time.Second
}

// GeneratorTimeout SQL生成超时时间
func (c *Config) GeneratorTimeout() time.Duration {
	return time.Duration(c.Generator.Timeout) * time.Second
}

// Timeout 外部AI服务调用超时时间
func (c *AIConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
