package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	apperrors "github.com/boqhub/text2sql-go/internal/errors"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	VectorSize int
	Distance   string
	Database   string
	UseTLS     bool
	Timeout    time.Duration
}

type milvusVectorStore struct {
	milvusClient client.Client
	collection   string
	vectorSize   int
	metricType   entity.MetricType
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "text2sql_schema"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	milvusClient, err := client.NewClient(
		context.Background(),
		client.Config{
			Address:       opts.Address,
			DBName:        opts.Database,
			Username:      opts.Username,
			Password:      opts.Password,
			EnableTLSAuth: opts.UseTLS,
		},
	)
	if err != nil {
		return nil, apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("failed to create milvus client: %w", err))
	}

	return &milvusVectorStore{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
		metricType:   formatMilvusMetric(opts.Distance),
	}, nil
}

func formatMilvusMetric(value string) entity.MetricType {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return entity.IP
	case "L2", "EUCLIDEAN":
		return entity.L2
	default:
		return entity.COSINE
	}
}

func (s *milvusVectorStore) ensureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("failed to check collection: %w", err))
	}
	if hasCollection {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "text2sql schema knowledge chunks",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "chunk_type",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "32"},
			},
			{
				Name:       "table_name",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.vectorSize)},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("failed to create collection: %w", err))
	}

	var index entity.Index
	index, err = entity.NewIndexHNSW(s.metricType, 8, 64)
	if err != nil {
		// HNSW参数不可用时退回IVF_FLAT
		index, err = entity.NewIndexIvfFlat(s.metricType, 128)
		if err != nil {
			return apperrors.NewVectorIndexUnavailable(
				fmt.Errorf("failed to create index: %w", err))
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("failed to create index: %w", err))
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("failed to load collection: %w", err))
	}
	return nil
}

// RecreateCollection 删除并重建集合
func (s *milvusVectorStore) RecreateCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return apperrors.NewVectorIndexUnavailable(err)
	}
	if hasCollection {
		if err := s.milvusClient.DropCollection(ctx, s.collection); err != nil {
			return apperrors.NewVectorIndexUnavailable(
				fmt.Errorf("failed to drop collection: %w", err))
		}
	}
	return s.ensureCollection(ctx)
}

func (s *milvusVectorStore) UpsertPoints(ctx context.Context, points []SchemaPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	ids := make([]string, 0, len(points))
	chunkTypes := make([]string, 0, len(points))
	tableNames := make([]string, 0, len(points))
	contents := make([]string, 0, len(points))
	vectors := make([][]float32, 0, len(points))
	for _, p := range points {
		if len(p.Embedding) != s.vectorSize {
			return apperrors.NewInvalidInput(
				fmt.Sprintf("embedding dimension %d does not match collection dimension %d", len(p.Embedding), s.vectorSize))
		}
		ids = append(ids, p.VectorID)
		chunkTypes = append(chunkTypes, p.ChunkType)
		tableNames = append(tableNames, p.TableName)
		contents = append(contents, p.Content)
		vectors = append(vectors, p.Embedding)
	}

	_, err := s.milvusClient.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("chunk_type", chunkTypes),
		entity.NewColumnVarChar("table_name", tableNames),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
	)
	if err != nil {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("milvus upsert failed: %w", err))
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("milvus flush failed: %w", err))
	}
	return nil
}

func buildMilvusExpr(filter *SearchFilter) string {
	if filter == nil {
		return ""
	}
	var clauses []string
	if len(filter.ChunkTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("chunk_type in [%s]", quoteList(filter.ChunkTypes)))
	}
	if len(filter.TableNames) > 0 {
		clauses = append(clauses, fmt.Sprintf("table_name in [%s]", quoteList(filter.TableNames)))
	}
	return strings.Join(clauses, " && ")
}

func quoteList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, strconv.Quote(v))
	}
	return strings.Join(quoted, ", ")
}

func (s *milvusVectorStore) Search(ctx context.Context, queryVector []float32, limit int, filter *SearchFilter) ([]SchemaMatch, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = 10
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, apperrors.NewVectorIndexUnavailable(err)
	}

	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		nil,
		buildMilvusExpr(filter),
		[]string{"chunk_type", "table_name", "content"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"vector",
		s.metricType,
		limit,
		sp,
	)
	if err != nil {
		return nil, apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("milvus search failed: %w", err))
	}

	var results []SchemaMatch
	for _, sr := range searchResults {
		idColumn, _ := sr.IDs.(*entity.ColumnVarChar)
		for i := 0; i < sr.ResultCount; i++ {
			match := SchemaMatch{Score: float64(sr.Scores[i])}
			if idColumn != nil {
				if id, err := idColumn.ValueByIdx(i); err == nil {
					match.VectorID = id
				}
			}
			match.ChunkType = varCharAt(sr.Fields.GetColumn("chunk_type"), i)
			match.TableName = varCharAt(sr.Fields.GetColumn("table_name"), i)
			match.Content = varCharAt(sr.Fields.GetColumn("content"), i)
			results = append(results, match)
		}
	}
	return results, nil
}

func varCharAt(column entity.Column, idx int) string {
	vc, ok := column.(*entity.ColumnVarChar)
	if !ok {
		return ""
	}
	val, err := vc.ValueByIdx(idx)
	if err != nil {
		return ""
	}
	return val
}

// DeleteByTable 删除指定表的全部知识块
func (s *milvusVectorStore) DeleteByTable(ctx context.Context, tableName string) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	expr := fmt.Sprintf("table_name == %s", strconv.Quote(tableName))
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("milvus delete failed: %w", err))
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("milvus flush failed: %w", err))
	}
	return nil
}

// ListTableNames 返回所有table_overview块覆盖的表名
func (s *milvusVectorStore) ListTableNames(ctx context.Context) ([]string, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	expr := fmt.Sprintf("chunk_type == %s", strconv.Quote(ChunkTypeTableOverview))
	resultSet, err := s.milvusClient.Query(ctx, s.collection, nil, expr, []string{"table_name"})
	if err != nil {
		return nil, apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("milvus query failed: %w", err))
	}

	seen := make(map[string]bool)
	if column := resultSet.GetColumn("table_name"); column != nil {
		for i := 0; i < column.Len(); i++ {
			if name := varCharAt(column, i); name != "" {
				seen[name] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Stats 返回集合统计信息
func (s *milvusVectorStore) Stats(ctx context.Context) (*CollectionStats, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	stats := &CollectionStats{TypeDistribution: make(map[string]int)}

	collStats, err := s.milvusClient.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return nil, apperrors.NewVectorIndexUnavailable(err)
	}
	if raw, ok := collStats["row_count"]; ok {
		if count, err := strconv.Atoi(raw); err == nil {
			stats.TotalVectors = count
		}
	}

	for chunkType := range ValidChunkTypes {
		expr := fmt.Sprintf("chunk_type == %s", strconv.Quote(chunkType))
		resultSet, err := s.milvusClient.Query(ctx, s.collection, nil, expr, []string{"id"})
		if err != nil {
			return nil, apperrors.NewVectorIndexUnavailable(err)
		}
		if column := resultSet.GetColumn("id"); column != nil && column.Len() > 0 {
			stats.TypeDistribution[chunkType] = column.Len()
		}
	}
	return stats, nil
}

func (s *milvusVectorStore) Ready() bool {
	return s.milvusClient != nil
}
