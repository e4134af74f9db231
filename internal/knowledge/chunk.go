package knowledge

// 知识块类型：表概览、列明细、表关系、业务规则
const (
	ChunkTypeTableOverview = "table_overview"
	ChunkTypeColumnDetail  = "column_detail"
	ChunkTypeRelationship  = "relationship"
	ChunkTypeBusinessRule  = "business_rule"
)

// ValidChunkTypes 所有合法的知识块类型
var ValidChunkTypes = map[string]bool{
	ChunkTypeTableOverview: true,
	ChunkTypeColumnDetail:  true,
	ChunkTypeRelationship:  true,
	ChunkTypeBusinessRule:  true,
}

// ChunkMetadata 知识块元数据
type ChunkMetadata struct {
	Type      string            `json:"type" validate:"required,chunktype"`
	TableName string            `json:"table_name,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// KnowledgeChunk 不可变的Schema知识块。
// VectorID在嵌入时分配，创建后不再变更；内容更新通过删除重插完成。
type KnowledgeChunk struct {
	Content  string        `json:"content" validate:"required"`
	Metadata ChunkMetadata `json:"metadata" validate:"required"`
	VectorID string        `json:"vector_id,omitempty"`
}

// RequiresTableName 判断该类型的知识块是否必须携带表名
func RequiresTableName(chunkType string) bool {
	switch chunkType {
	case ChunkTypeColumnDetail, ChunkTypeRelationship:
		return true
	default:
		return false
	}
}
