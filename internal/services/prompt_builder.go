package services

import (
	"fmt"
	"strings"

	"github.com/boqhub/text2sql-go/internal/knowledge"
)

// PromptBuilder 把类型化的检索上下文渲染为大模型提示词。
// 提示词格式的变更集中在这里，与检索逻辑互不影响。
type PromptBuilder struct{}

// NewPromptBuilder 创建提示词构造器
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// SystemPrompt SQL生成的系统提示词
func (b *PromptBuilder) SystemPrompt(dialect string) string {
	if dialect == "" {
		dialect = "postgresql"
	}
	var sb strings.Builder
	sb.WriteString("You are a SQL generation assistant for a telecom Bill-of-Quantities database.\n")
	fmt.Fprintf(&sb, "Target dialect: %s.\n", dialect)
	sb.WriteString("Rules:\n")
	sb.WriteString("1. Only reference tables and columns that appear in the provided schema context. Never invent table or column names.\n")
	sb.WriteString("2. Generate exactly one read-only statement (SELECT or WITH). No INSERT, UPDATE, DELETE, DDL.\n")
	sb.WriteString("3. Use the listed relationships for every join condition.\n")
	sb.WriteString("4. Respect the business rules when filtering or aggregating.\n")
	sb.WriteString("5. Reply with the SQL statement only, no explanation.\n")
	return sb.String()
}

// UserPrompt 渲染检索到的Schema事实与用户问题。
// 每条事实标注来源块，便于模型对齐与人工排查。
func (b *PromptBuilder) UserPrompt(rc *knowledge.RetrievalContext, question string) string {
	var sb strings.Builder

	sb.WriteString("## Schema context\n\n")

	sb.WriteString("### Tables\n")
	for _, t := range rc.Tables {
		fmt.Fprintf(&sb, "- [%s] %s\n", t.TableName, t.Content)
	}

	if columns := rc.ColumnChunks(); len(columns) > 0 {
		sb.WriteString("\n### Columns\n")
		for _, c := range columns {
			fmt.Fprintf(&sb, "- [%s] %s\n", c.TableName, c.Content)
		}
	}

	if len(rc.Relationships) > 0 {
		sb.WriteString("\n### Relationships\n")
		for _, r := range rc.Relationships {
			fmt.Fprintf(&sb, "- [%s] %s\n", r.TableName, r.Content)
		}
	}

	if len(rc.BusinessRules) > 0 {
		sb.WriteString("\n### Business rules\n")
		for _, r := range rc.BusinessRules {
			fmt.Fprintf(&sb, "- [%s] %s\n", ruleSource(r), r.Content)
		}
	}

	sb.WriteString("\n## Question\n\n")
	sb.WriteString(question)
	sb.WriteString("\n")
	return sb.String()
}

func ruleSource(m knowledge.SchemaMatch) string {
	if m.TableName != "" {
		return m.TableName
	}
	return "general"
}
