package services

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/boqhub/text2sql-go/internal/knowledge"
)

// RouteIntent 查询意图
type RouteIntent string

const (
	IntentDatabase RouteIntent = "database"
	IntentDocument RouteIntent = "document"
	IntentChat     RouteIntent = "chat"
)

// 分类规则名，体现在决策结果中便于审计
const (
	RuleTableMention     = "table_mention"
	RuleRetrievalKeyword = "retrieval_keyword"
	RuleDocumentKeyword  = "document_keyword"
	RuleDefaultChat      = "default_chat"
)

// RouteDecision 分类决策
type RouteDecision struct {
	Intent       RouteIntent `json:"intent"`
	MatchedRule  string      `json:"matched_rule"`
	MatchedTable string      `json:"matched_table,omitempty"`
}

// Handoff 非数据库意图的移交描述，由外部协作方（聊天代理/文档问答）接手
type Handoff struct {
	Target   string `json:"target"`
	Question string `json:"question"`
}

// RouteResult 路由执行结果
type RouteResult struct {
	Decision RouteDecision       `json:"decision"`
	SQL      *GeneratedSQLResult `json:"sql,omitempty"`
	Handoff  *Handoff            `json:"handoff,omitempty"`
}

// 检索类关键词：出现即判定为数据库查询意图
var retrievalKeywords = []string{
	"show me", "how many", "list", "fetch", "count",
	"sum of", "average", "total", "top ", "give me all",
}

// 文档类关键词
var documentKeywords = []string{
	"document", "pdf", "docx", "according to", "says",
	"uploaded file", "attachment", "in the file",
}

// TableRegistry 已知表名注册表。
// 由已摄取的table_overview块构建，可从向量索引刷新。
type TableRegistry struct {
	mu     sync.RWMutex
	tables map[string]bool
}

// NewTableRegistry 创建表名注册表
func NewTableRegistry(tables []string) *TableRegistry {
	r := &TableRegistry{tables: make(map[string]bool)}
	r.Replace(tables)
	return r
}

// Replace 整体替换已知表名
func (r *TableRegistry) Replace(tables []string) {
	normalized := make(map[string]bool, len(tables))
	for _, t := range tables {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			normalized[t] = true
		}
	}
	r.mu.Lock()
	r.tables = normalized
	r.mu.Unlock()
}

// Refresh 从向量索引刷新表名
func (r *TableRegistry) Refresh(ctx context.Context, store knowledge.VectorStore) error {
	names, err := store.ListTableNames(ctx)
	if err != nil {
		return err
	}
	r.Replace(names)
	return nil
}

// Names 返回当前已知表名，字典序
func (r *TableRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)

// Match 在问题文本中查找已知表名。
// 精确分词匹配优先；其次是近似匹配：去掉下划线后的表名必须与
// 单个分词或相邻分词的拼接整体相等，覆盖用户把ran_lld写成
// "ran lld"或"ranlld"的情况。子串包含不算命中，否则users会
// 误中"abusers"这类词。
func (r *TableRegistry) Match(question string) (string, bool) {
	lower := strings.ToLower(question)
	tokens := tokenPattern.FindAllString(lower, -1)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, token := range tokens {
		if r.tables[token] {
			return token, true
		}
	}

	var known []string
	for name := range r.tables {
		known = append(known, name)
	}
	sort.Strings(known)
	for _, name := range known {
		squashed := strings.ReplaceAll(name, "_", "")
		for i, token := range tokens {
			if token == squashed {
				return name, true
			}
			if i+1 < len(tokens) && token+tokens[i+1] == squashed {
				return name, true
			}
		}
	}
	return "", false
}

// QueryRouter 意图路由器。
// 规则按优先级排列，首条命中生效；显式表名提及永远不会被归为闲聊。
type QueryRouter struct {
	registry  *TableRegistry
	generator *SQLGenerator
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewQueryRouter 创建查询路由器
func NewQueryRouter(registry *TableRegistry, generator *SQLGenerator, metrics *MetricsService, logger *zap.Logger) *QueryRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryRouter{
		registry:  registry,
		generator: generator,
		metrics:   metrics,
		logger:    logger,
	}
}

// Classify 对问题做意图分类。纯函数，可独立测试。
func (qr *QueryRouter) Classify(question string) RouteDecision {
	lower := strings.ToLower(strings.TrimSpace(question))

	// 规则1：显式表名提及
	if table, ok := qr.registry.Match(question); ok {
		return RouteDecision{
			Intent:       IntentDatabase,
			MatchedRule:  RuleTableMention,
			MatchedTable: table,
		}
	}

	// 规则2：检索类关键词
	for _, kw := range retrievalKeywords {
		if strings.Contains(lower, kw) {
			return RouteDecision{Intent: IntentDatabase, MatchedRule: RuleRetrievalKeyword}
		}
	}

	// 规则3：文档类关键词
	for _, kw := range documentKeywords {
		if strings.Contains(lower, kw) {
			return RouteDecision{Intent: IntentDocument, MatchedRule: RuleDocumentKeyword}
		}
	}

	// 规则4：兜底闲聊
	return RouteDecision{Intent: IntentChat, MatchedRule: RuleDefaultChat}
}

// Route 完整路由：数据库意图走SQL生成，其余意图返回移交描述
func (qr *QueryRouter) Route(ctx context.Context, question, dialect string, validate bool) (*RouteResult, error) {
	decision := qr.Classify(question)
	qr.metrics.ObserveRoute(string(decision.Intent))
	qr.logger.Info("question routed",
		zap.String("intent", string(decision.Intent)),
		zap.String("rule", decision.MatchedRule),
	)

	result := &RouteResult{Decision: decision}
	if decision.Intent != IntentDatabase {
		result.Handoff = &Handoff{
			Target:   string(decision.Intent),
			Question: question,
		}
		return result, nil
	}

	sqlResult, err := qr.generator.GenerateSQL(ctx, question, dialect, validate)
	if err != nil {
		qr.metrics.ObserveRetrievalFailure(err)
		return nil, err
	}
	if !sqlResult.ExecutionReady {
		qr.metrics.ObserveValidationFailure()
	}
	result.SQL = sqlResult
	return result, nil
}
