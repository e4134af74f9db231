package knowledge

import "context"

// SchemaPoint 向量索引中的一个知识块记录
type SchemaPoint struct {
	VectorID  string
	Content   string
	ChunkType string
	TableName string
	Embedding []float32
}

// SearchFilter 按元数据精确过滤检索结果。
// 空切片表示该维度不过滤。
type SearchFilter struct {
	ChunkTypes []string
	TableNames []string
}

// SchemaMatch 一条检索结果
type SchemaMatch struct {
	VectorID  string  `json:"vector_id"`
	Content   string  `json:"content"`
	ChunkType string  `json:"chunk_type"`
	TableName string  `json:"table_name,omitempty"`
	Score     float64 `json:"score"`
}

// CollectionStats 集合统计信息
type CollectionStats struct {
	TotalVectors     int            `json:"total_vectors"`
	TypeDistribution map[string]int `json:"type_distribution"`
}

// VectorStore 向量存储抽象。
// 集合名、向量维度与距离度量在创建时固定；并发Upsert按vector_id后写覆盖。
type VectorStore interface {
	UpsertPoints(ctx context.Context, points []SchemaPoint) error
	Search(ctx context.Context, queryVector []float32, limit int, filter *SearchFilter) ([]SchemaMatch, error)
	DeleteByTable(ctx context.Context, tableName string) error
	RecreateCollection(ctx context.Context) error
	ListTableNames(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*CollectionStats, error)
	Ready() bool
}
