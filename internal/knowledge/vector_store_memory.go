package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	apperrors "github.com/boqhub/text2sql-go/internal/errors"
)

// memoryVectorStore 内存向量存储，用于测试与无外部依赖的本地运行。
// 余弦相似度全量扫描，语义与远端后端一致。
type memoryVectorStore struct {
	mu         sync.RWMutex
	points     map[string]SchemaPoint
	vectorSize int
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore(vectorSize int) VectorStore {
	if vectorSize == 0 {
		vectorSize = 1536
	}
	return &memoryVectorStore{
		points:     make(map[string]SchemaPoint),
		vectorSize: vectorSize,
	}
}

func (s *memoryVectorStore) UpsertPoints(ctx context.Context, points []SchemaPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if len(p.Embedding) != s.vectorSize {
			return apperrors.NewInvalidInput(
				fmt.Sprintf("embedding dimension %d does not match collection dimension %d", len(p.Embedding), s.vectorSize))
		}
		// 按vector_id后写覆盖
		s.points[p.VectorID] = p
	}
	return nil
}

func matchesFilter(p SchemaPoint, filter *SearchFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.ChunkTypes) > 0 && !containsString(filter.ChunkTypes, p.ChunkType) {
		return false
	}
	if len(filter.TableNames) > 0 && !containsString(filter.TableNames, p.TableName) {
		return false
	}
	return true
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *memoryVectorStore) Search(ctx context.Context, queryVector []float32, limit int, filter *SearchFilter) ([]SchemaMatch, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	if limit == 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SchemaMatch
	for _, p := range s.points {
		if !matchesFilter(p, filter) {
			continue
		}
		results = append(results, SchemaMatch{
			VectorID:  p.VectorID,
			Content:   p.Content,
			ChunkType: p.ChunkType,
			TableName: p.TableName,
			Score:     cosineSimilarity(queryVector, p.Embedding),
		})
	}

	// 分数降序，同分按vector_id保证确定性
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].VectorID < results[j].VectorID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *memoryVectorStore) DeleteByTable(ctx context.Context, tableName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.TableName == tableName {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *memoryVectorStore) RecreateCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = make(map[string]SchemaPoint)
	return nil
}

func (s *memoryVectorStore) ListTableNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, p := range s.points {
		if p.ChunkType == ChunkTypeTableOverview && p.TableName != "" {
			seen[p.TableName] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryVectorStore) Stats(ctx context.Context) (*CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &CollectionStats{
		TotalVectors:     len(s.points),
		TypeDistribution: make(map[string]int),
	}
	for _, p := range s.points {
		if p.ChunkType != "" {
			stats.TypeDistribution[p.ChunkType]++
		}
	}
	return stats, nil
}

func (s *memoryVectorStore) Ready() bool {
	return true
}
