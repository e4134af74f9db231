package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	apperrors "github.com/boqhub/text2sql-go/internal/errors"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint   string
	APIKey     string
	Collection string
	VectorSize int
	Distance   string
	UseTLS     bool
	Timeout    time.Duration
}

type qdrantVectorStore struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	collection string
	vectorSize int
	distance   string
}

// NewQdrantVectorStore 创建Qdrant向量存储
func NewQdrantVectorStore(opts QdrantOptions) (VectorStore, error) {
	if opts.Endpoint == "" {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://localhost:6333", scheme)
	}
	if !strings.HasPrefix(opts.Endpoint, "http") {
		scheme := "http"
		if opts.UseTLS {
			scheme = "https"
		}
		opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}

	if opts.Collection == "" {
		opts.Collection = "text2sql_schema"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Distance == "" {
		opts.Distance = "Cosine"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &qdrantVectorStore{
		client: &http.Client{
			Timeout: timeout,
		},
		endpoint:   strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		vectorSize: opts.VectorSize,
		distance:   formatDistance(opts.Distance),
	}, nil
}

func formatDistance(value string) string {
	switch strings.ToLower(value) {
	case "dot", "dotproduct":
		return "Dot"
	case "euclid", "l2":
		return "Euclid"
	default:
		return "Cosine"
	}
}

func (s *qdrantVectorStore) ensureCollection(ctx context.Context) error {
	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", s.collection), nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		resp.Body.Close()
		return nil
	}
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.vectorSize,
			"distance": s.distance,
		},
	}
	resp, err = s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body)
	if err != nil {
		return apperrors.NewVectorIndexUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("create collection %s failed: %s", s.collection, resp.Status))
	}
	return nil
}

// RecreateCollection 删除并重建集合。
// 维度或距离度量变更只能通过这条破坏性管理路径完成。
func (s *qdrantVectorStore) RecreateCollection(ctx context.Context) error {
	resp, err := s.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", s.collection), nil)
	if err != nil {
		return apperrors.NewVectorIndexUnavailable(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return s.ensureCollection(ctx)
}

func (s *qdrantVectorStore) UpsertPoints(ctx context.Context, points []SchemaPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	qdrantPoints := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		if len(p.Embedding) != s.vectorSize {
			return apperrors.NewInvalidInput(
				fmt.Sprintf("embedding dimension %d does not match collection dimension %d", len(p.Embedding), s.vectorSize))
		}
		qdrantPoints = append(qdrantPoints, map[string]interface{}{
			"id":     p.VectorID,
			"vector": p.Embedding,
			"payload": map[string]interface{}{
				"content":    p.Content,
				"chunk_type": p.ChunkType,
				"table_name": p.TableName,
			},
		})
	}

	payload := map[string]interface{}{"points": qdrantPoints}
	resp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", s.collection), payload)
	if err != nil {
		return apperrors.NewVectorIndexUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("qdrant upsert failed: %s %s", resp.Status, string(body)))
	}
	return nil
}

func buildQdrantFilter(filter *SearchFilter) map[string]interface{} {
	if filter == nil {
		return nil
	}
	var must []map[string]interface{}
	if len(filter.ChunkTypes) > 0 {
		must = append(must, map[string]interface{}{
			"key":   "chunk_type",
			"match": map[string]interface{}{"any": filter.ChunkTypes},
		})
	}
	if len(filter.TableNames) > 0 {
		must = append(must, map[string]interface{}{
			"key":   "table_name",
			"match": map[string]interface{}{"any": filter.TableNames},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func (s *qdrantVectorStore) Search(ctx context.Context, queryVector []float32, limit int, filter *SearchFilter) ([]SchemaMatch, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = 10
	}

	body := map[string]interface{}{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
		"with_vectors": false,
	}
	if f := buildQdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), body)
	if err != nil {
		return nil, apperrors.NewVectorIndexUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(raw)))
	}

	var searchResp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, apperrors.NewVectorIndexUnavailable(err)
	}

	results := make([]SchemaMatch, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		results = append(results, SchemaMatch{
			VectorID:  fmt.Sprintf("%v", item.ID),
			Content:   payloadString(item.Payload, "content"),
			ChunkType: payloadString(item.Payload, "chunk_type"),
			TableName: payloadString(item.Payload, "table_name"),
			Score:     item.Score,
		})
	}
	return results, nil
}

func payloadString(payload map[string]interface{}, key string) string {
	if val, ok := payload[key].(string); ok {
		return val
	}
	return ""
}

// DeleteByTable 删除指定表的全部知识块，用于原子化的重嵌入替换
func (s *qdrantVectorStore) DeleteByTable(ctx context.Context, tableName string) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{
					"key":   "table_name",
					"match": map[string]interface{}{"value": tableName},
				},
			},
		},
	}
	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection), body)
	if err != nil {
		return apperrors.NewVectorIndexUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("qdrant delete failed: %s %s", resp.Status, string(raw)))
	}
	return nil
}

// ListTableNames 滚动读取table_overview块，返回已知表名列表
func (s *qdrantVectorStore) ListTableNames(ctx context.Context) ([]string, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var offset interface{}
	for {
		body := map[string]interface{}{
			"limit":        256,
			"with_payload": true,
			"with_vector":  false,
			"filter": map[string]interface{}{
				"must": []map[string]interface{}{
					{
						"key":   "chunk_type",
						"match": map[string]interface{}{"value": ChunkTypeTableOverview},
					},
				},
			},
		}
		if offset != nil {
			body["offset"] = offset
		}

		resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", s.collection), body)
		if err != nil {
			return nil, apperrors.NewVectorIndexUnavailable(err)
		}

		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, apperrors.NewVectorIndexUnavailable(
				fmt.Errorf("qdrant scroll failed: %s %s", resp.Status, string(raw)))
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					Payload map[string]interface{} `json:"payload"`
				} `json:"points"`
				NextPageOffset interface{} `json:"next_page_offset"`
			} `json:"result"`
		}
		err = json.NewDecoder(resp.Body).Decode(&scrollResp)
		resp.Body.Close()
		if err != nil {
			return nil, apperrors.NewVectorIndexUnavailable(err)
		}

		for _, p := range scrollResp.Result.Points {
			if name := payloadString(p.Payload, "table_name"); name != "" {
				seen[name] = true
			}
		}
		if scrollResp.Result.NextPageOffset == nil {
			break
		}
		offset = scrollResp.Result.NextPageOffset
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Stats 返回集合的向量总数与各块类型分布
func (s *qdrantVectorStore) Stats(ctx context.Context) (*CollectionStats, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	stats := &CollectionStats{TypeDistribution: make(map[string]int)}

	total, err := s.countPoints(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats.TotalVectors = total

	for chunkType := range ValidChunkTypes {
		count, err := s.countPoints(ctx, map[string]interface{}{
			"must": []map[string]interface{}{
				{
					"key":   "chunk_type",
					"match": map[string]interface{}{"value": chunkType},
				},
			},
		})
		if err != nil {
			return nil, err
		}
		if count > 0 {
			stats.TypeDistribution[chunkType] = count
		}
	}
	return stats, nil
}

func (s *qdrantVectorStore) countPoints(ctx context.Context, filter map[string]interface{}) (int, error) {
	body := map[string]interface{}{"exact": true}
	if filter != nil {
		body["filter"] = filter
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", s.collection), body)
	if err != nil {
		return 0, apperrors.NewVectorIndexUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return 0, apperrors.NewVectorIndexUnavailable(
			fmt.Errorf("qdrant count failed: %s %s", resp.Status, string(raw)))
	}

	var countResp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&countResp); err != nil {
		return 0, apperrors.NewVectorIndexUnavailable(err)
	}
	return countResp.Result.Count, nil
}

func (s *qdrantVectorStore) Ready() bool {
	return s.client != nil
}

func (s *qdrantVectorStore) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
