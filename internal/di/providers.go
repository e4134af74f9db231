package di

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/boqhub/text2sql-go/internal/config"
	"github.com/boqhub/text2sql-go/internal/knowledge"
	"github.com/boqhub/text2sql-go/internal/logger"
	"github.com/boqhub/text2sql-go/internal/services"
)

// RegisterProviders 注册所有依赖提供者。
// 所有服务句柄在进程启动时构造一次并显式注入，不使用隐藏的全局单例。
func RegisterProviders(container *dig.Container) error {
	// 注册配置
	if err := container.Provide(func() (*config.Config, error) {
		cfg := config.GetAppConfig()
		if cfg == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return cfg, nil
	}); err != nil {
		return err
	}

	// 注册日志
	if err := container.Provide(func() *zap.Logger {
		return logger.GetLogger()
	}); err != nil {
		return err
	}

	// 注册Redis客户端（嵌入缓存用，未开启时为nil）
	if err := container.Provide(func(cfg *config.Config) *redis.Client {
		if !cfg.Redis.Enabled {
			return nil
		}
		return redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			DB:   cfg.Redis.DB,
		})
	}); err != nil {
		return err
	}

	// 注册Embedder
	if err := container.Provide(func(cfg *config.Config, client *redis.Client, log *zap.Logger) knowledge.Embedder {
		embedder := knowledge.NewOpenAIEmbedder(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIBaseURL, cfg.AI.EmbeddingModel)
		if cfg.Knowledge.Embedding.CacheEnabled && client != nil {
			return knowledge.NewCachedEmbedder(
				embedder,
				client,
				cfg.AI.EmbeddingModel,
				time.Duration(cfg.Redis.TTL)*time.Second,
				log.Named("embedder_cache"),
			)
		}
		return embedder
	}); err != nil {
		return err
	}

	// 注册向量存储
	if err := container.Provide(func(cfg *config.Config) (knowledge.VectorStore, error) {
		return NewVectorStore(cfg)
	}); err != nil {
		return err
	}

	// 注册两阶段检索器
	if err := container.Provide(func(cfg *config.Config, embedder knowledge.Embedder, store knowledge.VectorStore, log *zap.Logger) *knowledge.SchemaRetriever {
		return knowledge.NewSchemaRetriever(embedder, store, knowledge.RetrieverOptions{
			TableLimit:        cfg.Knowledge.Retrieval.TableLimit,
			DetailLimit:       cfg.Knowledge.Retrieval.DetailLimit,
			RelationshipLimit: cfg.Knowledge.Retrieval.RelationshipLimit,
			ScoreThreshold:    cfg.Knowledge.Retrieval.ScoreThreshold,
		}, log.Named("retriever"))
	}); err != nil {
		return err
	}

	// 注册摄取器
	if err := container.Provide(func(cfg *config.Config, embedder knowledge.Embedder, store knowledge.VectorStore, log *zap.Logger) *knowledge.Ingestor {
		return knowledge.NewIngestor(embedder, store, cfg.Knowledge.Embedding.BatchSize, log.Named("ingestor"))
	}); err != nil {
		return err
	}

	// 注册指标服务
	if err := container.Provide(services.NewMetricsService); err != nil {
		return err
	}

	// 注册大模型
	if err := container.Provide(func(cfg *config.Config) services.ChatModel {
		return services.NewOpenAIChatModel(
			cfg.AI.OpenAIAPIKey,
			cfg.AI.OpenAIBaseURL,
			cfg.AI.ChatModel,
			cfg.Generator.Temperature,
			cfg.Generator.MaxTokens,
		)
	}); err != nil {
		return err
	}

	// 注册SQL生成器
	if err := container.Provide(func(cfg *config.Config, retriever *knowledge.SchemaRetriever, model services.ChatModel, metrics *services.MetricsService, log *zap.Logger) *services.SQLGenerator {
		return services.NewSQLGenerator(retriever, model, services.SQLGeneratorOptions{
			Dialect:          cfg.Generator.Dialect,
			RetrievalTimeout: cfg.RetrievalTimeout(),
			ModelTimeout:     cfg.GeneratorTimeout(),
		}, metrics, log.Named("generator"))
	}); err != nil {
		return err
	}

	// 注册表名注册表
	if err := container.Provide(func() *services.TableRegistry {
		return services.NewTableRegistry(nil)
	}); err != nil {
		return err
	}

	// 注册查询路由器
	if err := container.Provide(func(registry *services.TableRegistry, generator *services.SQLGenerator, metrics *services.MetricsService, log *zap.Logger) *services.QueryRouter {
		return services.NewQueryRouter(registry, generator, metrics, log.Named("router"))
	}); err != nil {
		return err
	}

	return nil
}

// NewVectorStore 按配置选择向量存储后端
func NewVectorStore(cfg *config.Config) (knowledge.VectorStore, error) {
	switch cfg.Knowledge.VectorStore.Provider {
	case "milvus":
		opts := cfg.Knowledge.VectorStore.Milvus
		return knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
			Address:    opts.Address,
			Username:   opts.Username,
			Password:   opts.Password,
			Collection: cfg.Knowledge.Collection,
			VectorSize: opts.VectorSize,
			Distance:   opts.Distance,
			Database:   opts.Database,
			UseTLS:     opts.TLS,
		})
	case "memory":
		return knowledge.NewMemoryVectorStore(cfg.Knowledge.VectorStore.Qdrant.VectorSize), nil
	default:
		opts := cfg.Knowledge.VectorStore.Qdrant
		return knowledge.NewQdrantVectorStore(knowledge.QdrantOptions{
			Endpoint:   opts.Endpoint,
			APIKey:     opts.APIKey,
			Collection: cfg.Knowledge.Collection,
			VectorSize: opts.VectorSize,
			Distance:   opts.Distance,
			UseTLS:     opts.TLS,
			Timeout:    time.Duration(opts.Timeout) * time.Second,
		})
	}
}
