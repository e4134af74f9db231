package knowledge

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/boqhub/text2sql-go/internal/errors"
)

// RetrievalContext 单次请求装配出的Schema上下文。
// relationships与business_rules中的块必然同时出现在all_chunks中；
// tables为空的请求不允许进入SQL生成。
type RetrievalContext struct {
	Tables        []SchemaMatch `json:"tables"`
	Relationships []SchemaMatch `json:"relationships"`
	BusinessRules []SchemaMatch `json:"business_rules"`
	AllChunks     []SchemaMatch `json:"all_chunks"`
}

// TableNames 返回一阶段识别出的表名，保持检索顺序
func (c *RetrievalContext) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	seen := make(map[string]bool)
	for _, t := range c.Tables {
		if t.TableName == "" || seen[t.TableName] {
			continue
		}
		seen[t.TableName] = true
		names = append(names, t.TableName)
	}
	return names
}

// ColumnChunks 返回检索到的列明细块
func (c *RetrievalContext) ColumnChunks() []SchemaMatch {
	var out []SchemaMatch
	for _, chunk := range c.AllChunks {
		if chunk.ChunkType == ChunkTypeColumnDetail {
			out = append(out, chunk)
		}
	}
	return out
}

// RetrieverOptions 两阶段检索参数
type RetrieverOptions struct {
	TableLimit        int     // 一阶段表识别top-K
	DetailLimit       int     // 二阶段列/规则明细top-K
	RelationshipLimit int     // 关系块超量检索top-K，join正确性依赖关系块的充分召回
	ScoreThreshold    float64 // 低于该相似度的一阶段匹配被丢弃
}

func (o RetrieverOptions) withDefaults() RetrieverOptions {
	if o.TableLimit == 0 {
		o.TableLimit = 8
	}
	if o.DetailLimit == 0 {
		o.DetailLimit = 20
	}
	if o.RelationshipLimit == 0 {
		o.RelationshipLimit = 30
	}
	return o
}

// SchemaRetriever 两阶段Schema检索器。
// 一阶段做表识别，二阶段在识别出的表范围内拉取列、关系与业务规则明细。
type SchemaRetriever struct {
	embedder Embedder
	store    VectorStore
	opts     RetrieverOptions
	logger   *zap.Logger
}

// NewSchemaRetriever 创建两阶段检索器
func NewSchemaRetriever(embedder Embedder, store VectorStore, opts RetrieverOptions, logger *zap.Logger) *SchemaRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaRetriever{
		embedder: embedder,
		store:    store,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Retrieve 执行两阶段检索，装配RetrievalContext。
// 一阶段无结果时返回NoMatchingSchema，调用方必须中止SQL生成。
func (r *SchemaRetriever) Retrieve(ctx context.Context, question string) (*RetrievalContext, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apperrors.NewInvalidInput("question is empty")
	}

	queryVector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	tables, err := r.identifyTables(ctx, queryVector)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		r.logger.Info("stage-1 retrieval empty", zap.String("question", question))
		return nil, apperrors.NewNoMatchingSchema(question)
	}

	tableNames := make([]string, 0, len(tables))
	for _, t := range tables {
		if t.TableName != "" {
			tableNames = append(tableNames, t.TableName)
		}
	}

	details, relationships, err := r.retrieveDetails(ctx, queryVector, tableNames)
	if err != nil {
		return nil, err
	}

	return assembleContext(tables, details, relationships), nil
}

// identifyTables 一阶段：表识别。
// 结果按分数降序排列，同分按表名字典序，保证输出确定性。
func (r *SchemaRetriever) identifyTables(ctx context.Context, queryVector []float32) ([]SchemaMatch, error) {
	matches, err := r.store.Search(ctx, queryVector, r.opts.TableLimit, &SearchFilter{
		ChunkTypes: []string{ChunkTypeTableOverview},
	})
	if err != nil {
		return nil, err
	}

	var tables []SchemaMatch
	for _, m := range matches {
		if r.opts.ScoreThreshold > 0 && m.Score < r.opts.ScoreThreshold {
			continue
		}
		tables = append(tables, m)
	}

	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].Score != tables[j].Score {
			return tables[i].Score > tables[j].Score
		}
		return tables[i].TableName < tables[j].TableName
	})
	return tables, nil
}

// retrieveDetails 二阶段：在一阶段表范围内检索明细块。
// 关系块单独检索且配额更高：关系召回不足是join错误的主要来源。
func (r *SchemaRetriever) retrieveDetails(ctx context.Context, queryVector []float32, tableNames []string) (details, relationships []SchemaMatch, err error) {
	details, err = r.store.Search(ctx, queryVector, r.opts.DetailLimit, &SearchFilter{
		ChunkTypes: []string{ChunkTypeColumnDetail, ChunkTypeBusinessRule},
		TableNames: tableNames,
	})
	if err != nil {
		return nil, nil, err
	}

	relationships, err = r.store.Search(ctx, queryVector, r.opts.RelationshipLimit, &SearchFilter{
		ChunkTypes: []string{ChunkTypeRelationship},
		TableNames: tableNames,
	})
	if err != nil {
		return nil, nil, err
	}
	return details, relationships, nil
}

// assembleContext 合并两阶段结果，按vector_id去重。
// 去重后的all_chunks按分数降序、同分按vector_id排序，与串行执行结果一致。
func assembleContext(tables, details, relationships []SchemaMatch) *RetrievalContext {
	rc := &RetrievalContext{Tables: tables}

	seen := make(map[string]bool)
	add := func(m SchemaMatch) bool {
		if seen[m.VectorID] {
			return false
		}
		seen[m.VectorID] = true
		rc.AllChunks = append(rc.AllChunks, m)
		return true
	}

	for _, t := range tables {
		add(t)
	}
	for _, d := range details {
		if !add(d) {
			continue
		}
		if d.ChunkType == ChunkTypeBusinessRule {
			rc.BusinessRules = append(rc.BusinessRules, d)
		}
	}
	for _, rel := range relationships {
		if !add(rel) {
			continue
		}
		rc.Relationships = append(rc.Relationships, rel)
	}

	sort.SliceStable(rc.AllChunks, func(i, j int) bool {
		if rc.AllChunks[i].Score != rc.AllChunks[j].Score {
			return rc.AllChunks[i].Score > rc.AllChunks[j].Score
		}
		return rc.AllChunks[i].VectorID < rc.AllChunks[j].VectorID
	})
	return rc
}
