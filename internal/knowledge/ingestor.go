package knowledge

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestResult 一轮摄取的结果
type IngestResult struct {
	Inserted int      `json:"inserted"`
	Tables   []string `json:"tables"`
}

// Ingestor 批量摄取知识块：嵌入、分配vector_id、写入向量索引。
// 摄取脚本单线程运行，不与查询流量并发执行。
type Ingestor struct {
	embedder  Embedder
	store     VectorStore
	batchSize int
	logger    *zap.Logger
}

// NewIngestor 创建摄取器
func NewIngestor(embedder Embedder, store VectorStore, batchSize int, logger *zap.Logger) *Ingestor {
	if batchSize <= 0 {
		batchSize = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Ingest 摄取知识块。clear为true时先删除重建集合。
// vector_id在嵌入时分配且此后不变。
func (ing *Ingestor) Ingest(ctx context.Context, chunks []KnowledgeChunk, clear bool) (*IngestResult, error) {
	if clear {
		if err := ing.store.RecreateCollection(ctx); err != nil {
			return nil, err
		}
		ing.logger.Info("collection recreated")
	}
	return ing.insertChunks(ctx, chunks)
}

// Reembed 重嵌入替换：先按表删除旧块再插入新块，避免新旧重复块共存。
func (ing *Ingestor) Reembed(ctx context.Context, chunks []KnowledgeChunk) (*IngestResult, error) {
	for _, table := range tablesOf(chunks) {
		if err := ing.store.DeleteByTable(ctx, table); err != nil {
			return nil, err
		}
		ing.logger.Info("stale chunks deleted", zap.String("table", table))
	}
	return ing.insertChunks(ctx, chunks)
}

func (ing *Ingestor) insertChunks(ctx context.Context, chunks []KnowledgeChunk) (*IngestResult, error) {
	result := &IngestResult{Tables: tablesOf(chunks)}

	for start := 0; start < len(chunks); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, 0, len(batch))
		for _, c := range batch {
			texts = append(texts, c.Content)
		}
		vectors, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}

		points := make([]SchemaPoint, 0, len(batch))
		for i, c := range batch {
			points = append(points, SchemaPoint{
				VectorID:  uuid.NewString(),
				Content:   c.Content,
				ChunkType: c.Metadata.Type,
				TableName: c.Metadata.TableName,
				Embedding: vectors[i],
			})
		}
		if err := ing.store.UpsertPoints(ctx, points); err != nil {
			return nil, err
		}
		result.Inserted += len(points)
		ing.logger.Debug("batch ingested",
			zap.Int("batch_size", len(points)),
			zap.Int("total", result.Inserted),
		)
	}

	ing.logger.Info("ingestion complete",
		zap.Int("inserted", result.Inserted),
		zap.Int("tables", len(result.Tables)),
	)
	return result, nil
}

func tablesOf(chunks []KnowledgeChunk) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, c := range chunks {
		name := c.Metadata.TableName
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}
