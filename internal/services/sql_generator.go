package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boqhub/text2sql-go/internal/knowledge"
)

// GeneratedSQLResult SQL生成结果。
// 每个问题构造一次，不可变，不由本子系统持久化。
type GeneratedSQLResult struct {
	SQL              string                      `json:"sql"`
	Confidence       float64                     `json:"confidence"`
	ExecutionReady   bool                        `json:"execution_ready"`
	Errors           []string                    `json:"errors"`
	RetrievedContext *knowledge.RetrievalContext `json:"retrieved_context,omitempty"`
}

// SchemaSource 生成器依赖的检索接口
type SchemaSource interface {
	Retrieve(ctx context.Context, question string) (*knowledge.RetrievalContext, error)
}

// SQLGeneratorOptions SQL生成器参数
type SQLGeneratorOptions struct {
	Dialect          string
	RetrievalTimeout time.Duration
	ModelTimeout     time.Duration
}

func (o SQLGeneratorOptions) withDefaults() SQLGeneratorOptions {
	if o.Dialect == "" {
		o.Dialect = "postgresql"
	}
	if o.RetrievalTimeout == 0 {
		o.RetrievalTimeout = 10 * time.Second
	}
	if o.ModelTimeout == 0 {
		o.ModelTimeout = 60 * time.Second
	}
	return o
}

// SQLGenerator 基于检索上下文生成并校验SQL
type SQLGenerator struct {
	retriever SchemaSource
	model     ChatModel
	prompts   *PromptBuilder
	validator *SQLValidator
	opts      SQLGeneratorOptions
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewSQLGenerator 创建SQL生成器
func NewSQLGenerator(retriever SchemaSource, model ChatModel, opts SQLGeneratorOptions, metrics *MetricsService, logger *zap.Logger) *SQLGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLGenerator{
		retriever: retriever,
		model:     model,
		prompts:   NewPromptBuilder(),
		validator: NewSQLValidator(),
		opts:      opts.withDefaults(),
		metrics:   metrics,
		logger:    logger,
	}
}

// GenerateSQL 生成SQL。
// 检索为空或基础设施故障直接返回错误；校验失败只记录在结果中。
// 检索与模型调用各自带独立超时，避免任一外部服务拖垮整个请求。
func (g *SQLGenerator) GenerateSQL(ctx context.Context, question, dialect string, validate bool) (*GeneratedSQLResult, error) {
	if dialect == "" {
		dialect = g.opts.Dialect
	}

	retrievalStart := time.Now()
	retrievalCtx, cancel := context.WithTimeout(ctx, g.opts.RetrievalTimeout)
	rc, err := g.retriever.Retrieve(retrievalCtx, question)
	cancel()
	g.metrics.ObserveRetrievalSeconds(time.Since(retrievalStart).Seconds())
	if err != nil {
		// NoMatchingSchema在此截断：空上下文下调用模型只会产出幻觉
		return nil, err
	}

	systemPrompt := g.prompts.SystemPrompt(dialect)
	userPrompt := g.prompts.UserPrompt(rc, question)

	modelCtx, cancel := context.WithTimeout(ctx, g.opts.ModelTimeout)
	raw, err := g.model.Complete(modelCtx, systemPrompt, userPrompt)
	cancel()
	if err != nil {
		return nil, err
	}

	sql := ExtractSQL(raw)
	result := &GeneratedSQLResult{
		SQL:              sql,
		Errors:           []string{},
		RetrievedContext: rc,
	}

	var issues []ValidationIssue
	if validate {
		issues = g.validator.Validate(sql, allowedTables(rc))
		for _, issue := range issues {
			result.Errors = append(result.Errors, issue.String())
		}
	}

	result.ExecutionReady = sql != "" && len(result.Errors) == 0
	result.Confidence = g.scoreConfidence(sql, rc, issues)
	g.metrics.ObserveGeneration()

	g.logger.Info("sql generated",
		zap.String("dialect", dialect),
		zap.Bool("execution_ready", result.ExecutionReady),
		zap.Float64("confidence", result.Confidence),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

var (
	sqlFencePattern = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	selectPattern   = regexp.MustCompile(`(?is)\b(select|with)\b.*`)
)

// ExtractSQL 从模型原始输出中提取SQL语句，剥离markdown围栏与前后说明文字
func ExtractSQL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if m := sqlFencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}

	// 无围栏时从首个SELECT/WITH截取
	if m := selectPattern.FindString(raw); m != "" {
		return strings.TrimSpace(m)
	}
	return raw
}

// allowedTables 计算SQL允许引用的表集合：
// 一阶段识别的表，加上关系块中出现的关联表（跨表join经由关系块背书）。
func allowedTables(rc *knowledge.RetrievalContext) map[string]bool {
	allowed := make(map[string]bool)
	for _, name := range rc.TableNames() {
		allowed[strings.ToLower(name)] = true
	}
	for _, rel := range rc.Relationships {
		if rel.TableName != "" {
			allowed[strings.ToLower(rel.TableName)] = true
		}
		for _, name := range qualifiedNamePattern.FindAllStringSubmatch(rel.Content, -1) {
			allowed[strings.ToLower(name[1])] = true
		}
	}
	return allowed
}

var qualifiedNamePattern = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\.[a-zA-Z_][a-zA-Z0-9_]*\b`)

// scoreConfidence 启发式置信度：
// 覆盖率（引用的表/列确实出现在上下文中）加分，校验失败扣分。
// 不是统计概率，只用于人工复核时排序。
func (g *SQLGenerator) scoreConfidence(sql string, rc *knowledge.RetrievalContext, issues []ValidationIssue) float64 {
	if sql == "" {
		return 0
	}

	score := 0.5

	// 表覆盖率
	referenced := g.validator.ReferencedTables(sql)
	if len(referenced) > 0 {
		allowed := allowedTables(rc)
		covered := 0
		for _, t := range referenced {
			if allowed[t] {
				covered++
			}
		}
		score += 0.2 * float64(covered) / float64(len(referenced))
	}

	// 列覆盖率：SQL中table.column限定引用能在上下文内容中找到
	qualified := qualifiedNamePattern.FindAllString(sql, -1)
	if len(qualified) > 0 {
		contextText := strings.ToLower(contextContents(rc))
		found := 0
		for _, q := range qualified {
			if strings.Contains(contextText, strings.ToLower(q)) {
				found++
			}
		}
		score += 0.15 * float64(found) / float64(len(qualified))
	}

	// join有关系块背书时加分
	if len(rc.Relationships) > 0 && strings.Contains(strings.ToLower(sql), "join") {
		score += 0.1
	}

	// 校验失败扣分，禁止表引用是重罚项
	for _, issue := range issues {
		if issue.Code == IssueForbiddenTable {
			score -= 0.3
		} else {
			score -= 0.15
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func contextContents(rc *knowledge.RetrievalContext) string {
	var sb strings.Builder
	for _, c := range rc.AllChunks {
		sb.WriteString(c.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
