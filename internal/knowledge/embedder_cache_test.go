package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedderPassThroughWhenDisabled(t *testing.T) {
	inner := &stubEmbedder{backup: []float32{1, 0, 0}}
	cached := NewCachedEmbedder(inner, nil, "text-embedding-3-small", 0, nil)

	vec, err := cached.Embed(context.Background(), "users table")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)

	vectors, err := cached.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)

	// 未启用缓存时不产生命中率统计
	assert.Equal(t, 0.0, cached.HitRate())
}

func TestCacheHitStatsRate(t *testing.T) {
	stats := &CacheHitStats{}
	assert.Equal(t, 0.0, stats.Rate())

	stats.Hit()
	stats.Hit()
	stats.Miss()
	assert.InDelta(t, 2.0/3.0, stats.Rate(), 1e-9)
}

func TestCacheKeyIncludesModel(t *testing.T) {
	small := NewCachedEmbedder(&stubEmbedder{}, nil, "text-embedding-3-small", 0, nil)
	large := NewCachedEmbedder(&stubEmbedder{}, nil, "text-embedding-3-large", 0, nil)

	// 切换嵌入模型后不能命中旧向量
	assert.NotEqual(t, small.cacheKey("users table"), large.cacheKey("users table"))
}
