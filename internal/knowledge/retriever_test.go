package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/boqhub/text2sql-go/internal/errors"
)

// stubEmbedder 固定向量的确定性嵌入器
type stubEmbedder struct {
	vectors map[string][]float32
	backup  []float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.backup, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) Ready() bool     { return true }

// failingEmbedder 模拟嵌入服务不可用
type failingEmbedder struct{}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, apperrors.NewEmbeddingUnavailable(context.DeadlineExceeded)
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, apperrors.NewEmbeddingUnavailable(context.DeadlineExceeded)
}

func (f *failingEmbedder) Dimensions() int { return 3 }
func (f *failingEmbedder) Ready() bool     { return false }

func newTestRetriever(t *testing.T) (*SchemaRetriever, VectorStore) {
	t.Helper()
	store := seedStore(t)
	embedder := &stubEmbedder{
		vectors: map[string][]float32{
			"how many users signed up": {0.9, 0.1, 0},
		},
		backup: []float32{0.1, 0.1, 0.9},
	}
	retriever := NewSchemaRetriever(embedder, store, RetrieverOptions{}, nil)
	return retriever, store
}

func TestRetrieveAssemblesTwoStageContext(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	rc, err := retriever.Retrieve(context.Background(), "how many users signed up")
	require.NoError(t, err)

	assert.NotEmpty(t, rc.Tables)
	assert.Equal(t, "users", rc.Tables[0].TableName)
	assert.Contains(t, rc.TableNames(), "users")

	// 关系块与规则块必然同时出现在all_chunks里
	all := make(map[string]bool)
	for _, c := range rc.AllChunks {
		all[c.VectorID] = true
	}
	for _, r := range rc.Relationships {
		assert.True(t, all[r.VectorID])
	}
	for _, r := range rc.BusinessRules {
		assert.True(t, all[r.VectorID])
	}
}

func TestRetrieveStageTwoScopedToIdentifiedTables(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	rc, err := retriever.Retrieve(context.Background(), "how many users signed up")
	require.NoError(t, err)

	identified := make(map[string]bool)
	for _, name := range rc.TableNames() {
		identified[name] = true
	}
	for _, c := range rc.ColumnChunks() {
		assert.True(t, identified[c.TableName], "column chunk %s escaped stage-1 scope", c.VectorID)
	}
}

func TestRetrieveDeduplicatesByVectorID(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	rc, err := retriever.Retrieve(context.Background(), "how many users signed up")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, c := range rc.AllChunks {
		assert.False(t, seen[c.VectorID], "duplicate chunk %s in all_chunks", c.VectorID)
		seen[c.VectorID] = true
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	first, err := retriever.Retrieve(context.Background(), "how many users signed up")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		next, err := retriever.Retrieve(context.Background(), "how many users signed up")
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}

func TestRetrieveEmptyQuestion(t *testing.T) {
	retriever, _ := newTestRetriever(t)

	_, err := retriever.Retrieve(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
}

func TestRetrieveNoMatchingSchemaOnEmptyStore(t *testing.T) {
	store := NewMemoryVectorStore(3)
	embedder := &stubEmbedder{backup: []float32{1, 0, 0}}
	retriever := NewSchemaRetriever(embedder, store, RetrieverOptions{}, nil)

	_, err := retriever.Retrieve(context.Background(), "how many users signed up")
	require.Error(t, err)
	assert.True(t, apperrors.IsNoMatchingSchema(err))
}

func TestRetrieveScoreThresholdFiltersTables(t *testing.T) {
	store := seedStore(t)
	embedder := &stubEmbedder{backup: []float32{0, 0, 1}}
	// 查询向量与所有表概览正交，阈值之下一张表都不该留下
	retriever := NewSchemaRetriever(embedder, store, RetrieverOptions{ScoreThreshold: 0.5}, nil)

	_, err := retriever.Retrieve(context.Background(), "unrelated question about weather")
	require.Error(t, err)
	assert.True(t, apperrors.IsNoMatchingSchema(err))
}

func TestRetrievePropagatesEmbedderFailure(t *testing.T) {
	store := seedStore(t)
	retriever := NewSchemaRetriever(&failingEmbedder{}, store, RetrieverOptions{}, nil)

	_, err := retriever.Retrieve(context.Background(), "how many users signed up")
	require.Error(t, err)
	assert.True(t, apperrors.IsEmbeddingUnavailable(err))
}
