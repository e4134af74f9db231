package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheHitStats 缓存命中率统计
type CacheHitStats struct {
	hits   int64
	misses int64
	mu     sync.RWMutex
}

// Hit 记录一次命中
func (s *CacheHitStats) Hit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

// Miss 记录一次未命中
func (s *CacheHitStats) Miss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

// Rate 返回命中率
func (s *CacheHitStats) Rate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return float64(s.hits) / float64(total)
}

// CachedEmbedder Redis嵌入向量缓存装饰器。
// 缓存未开启或Redis不可用时直接透传到底层Embedder，不影响正确性。
type CachedEmbedder struct {
	inner    Embedder
	client   *redis.Client
	enabled  bool
	ttl      time.Duration
	model    string
	hitStats *CacheHitStats
	logger   *zap.Logger
}

// NewCachedEmbedder 创建带Redis缓存的Embedder
func NewCachedEmbedder(inner Embedder, client *redis.Client, model string, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if ttl == 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:    inner,
		client:   client,
		enabled:  client != nil,
		ttl:      ttl,
		model:    model,
		hitStats: &CacheHitStats{},
		logger:   logger,
	}
}

// 缓存键包含模型名，避免切换嵌入模型后读到旧向量
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("text2sql:embedding:%s:%s", c.model, hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.enabled {
		return c.inner.Embed(ctx, text)
	}

	key := c.cacheKey(text)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
			c.hitStats.Hit()
			return vec, nil
		}
	}
	c.hitStats.Miss()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(vec); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("failed to cache embedding", zap.Error(err))
		}
	}
	return vec, nil
}

// EmbedBatch 批量路径逐条查缓存，仅对未命中的文本调用底层Embedder
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.enabled {
		return c.inner.EmbedBatch(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		raw, err := c.client.Get(ctx, c.cacheKey(text)).Bytes()
		if err == nil {
			var vec []float32
			if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
				c.hitStats.Hit()
				vectors[i] = vec
				continue
			}
		}
		c.hitStats.Miss()
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		fresh, err := c.inner.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vec := range fresh {
			vectors[missingIdx[j]] = vec
			if raw, err := json.Marshal(vec); err == nil {
				if err := c.client.Set(ctx, c.cacheKey(missing[j]), raw, c.ttl).Err(); err != nil {
					c.logger.Warn("failed to cache embedding", zap.Error(err))
				}
			}
		}
	}
	return vectors, nil
}

func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

func (c *CachedEmbedder) Ready() bool {
	return c.inner.Ready()
}

// HitRate 返回当前缓存命中率
func (c *CachedEmbedder) HitRate() float64 {
	return c.hitStats.Rate()
}
