package services

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationIssue 一条SQL校验问题
type ValidationIssue struct {
	Code    string
	Message string
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// 校验问题码
const (
	IssueForbiddenTable    = "FORBIDDEN_TABLE"
	IssueEmptySQL          = "EMPTY_SQL"
	IssueNotReadOnly       = "NOT_READ_ONLY"
	IssueUnbalancedParens  = "UNBALANCED_PARENS"
	IssueUnbalancedQuotes  = "UNBALANCED_QUOTES"
	IssueMultipleStatement = "MULTIPLE_STATEMENTS"
)

// SQLValidator 对生成的SQL做静态校验。
// 校验失败不抛错，问题记录在结果中由调用方决定取舍。
type SQLValidator struct {
	tableRefPattern *regexp.Regexp
	qualifiedColumn *regexp.Regexp
	ctePattern      *regexp.Regexp
}

// NewSQLValidator 创建SQL校验器
func NewSQLValidator() *SQLValidator {
	return &SQLValidator{
		// FROM/JOIN后的表名引用，支持可选的schema前缀与引号
		tableRefPattern: regexp.MustCompile(`(?i)\b(?:from|join)\s+"?([a-zA-Z_][a-zA-Z0-9_.]*)"?`),
		qualifiedColumn: regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\.[a-zA-Z_][a-zA-Z0-9_]*\b`),
		// WITH子句定义的CTE名：WITH [RECURSIVE] name AS ( 以及后续 , name AS (
		ctePattern: regexp.MustCompile(`(?i)(?:\bwith\s+(?:recursive\s+)?|,\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s+as\s*\(`),
	}
}

// 只读语句允许的起始关键字
var readOnlyVerbs = map[string]bool{
	"select":  true,
	"with":    true,
	"explain": true,
}

// Validate 校验SQL：引用表必须在allowedTables内，语句必须只读且语法基本完整。
func (v *SQLValidator) Validate(sql string, allowedTables map[string]bool) []ValidationIssue {
	var issues []ValidationIssue

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return []ValidationIssue{{Code: IssueEmptySQL, Message: "generated SQL is empty"}}
	}

	// 只读校验：首个关键字必须是只读动词
	firstWord := strings.ToLower(firstToken(trimmed))
	if !readOnlyVerbs[firstWord] {
		issues = append(issues, ValidationIssue{
			Code:    IssueNotReadOnly,
			Message: fmt.Sprintf("statement starts with %q, expected a read-only verb", firstWord),
		})
	}

	// 单语句校验：去掉尾部分号后不允许再出现分号
	body := strings.TrimSuffix(trimmed, ";")
	if strings.Contains(body, ";") {
		issues = append(issues, ValidationIssue{
			Code:    IssueMultipleStatement,
			Message: "multiple SQL statements are not allowed",
		})
	}

	// 括号与引号平衡
	if !balancedParens(trimmed) {
		issues = append(issues, ValidationIssue{
			Code:    IssueUnbalancedParens,
			Message: "parentheses are not balanced",
		})
	}
	if strings.Count(trimmed, "'")%2 != 0 {
		issues = append(issues, ValidationIssue{
			Code:    IssueUnbalancedQuotes,
			Message: "single quotes are not balanced",
		})
	}

	// 禁止表校验：任何不在检索上下文内的表引用都是硬性失败，
	// 这是针对表名幻觉的最后一道防线。
	for _, table := range v.ReferencedTables(sql) {
		if !allowedTables[strings.ToLower(table)] {
			issues = append(issues, ValidationIssue{
				Code:    IssueForbiddenTable,
				Message: fmt.Sprintf("table %q is not present in the retrieved schema context", table),
			})
		}
	}
	return issues
}

// ReferencedTables 提取SQL中引用的表名（FROM/JOIN子句），去重保序。
// WITH子句定义的CTE名不是表引用，不计入。
func (v *SQLValidator) ReferencedTables(sql string) []string {
	cteNames := v.cteNames(sql)

	var tables []string
	seen := make(map[string]bool)
	for _, m := range v.tableRefPattern.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(strings.TrimSpace(m[1]))
		// 去掉schema前缀
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		if name == "" || seen[name] || cteNames[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// cteNames 提取WITH子句定义的CTE名集合（小写）
func (v *SQLValidator) cteNames(sql string) map[string]bool {
	names := make(map[string]bool)
	for _, m := range v.ctePattern.FindAllStringSubmatch(sql, -1) {
		names[strings.ToLower(m[1])] = true
	}
	return names
}

// QualifiedTables 提取SQL中以table.column形式出现的表限定名
func (v *SQLValidator) QualifiedTables(sql string) []string {
	var tables []string
	seen := make(map[string]bool)
	for _, m := range v.qualifiedColumn.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(m[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func balancedParens(s string) bool {
	depth := 0
	inSingle := false
	for _, r := range s {
		switch r {
		case '\'':
			inSingle = !inSingle
		case '(':
			if !inSingle {
				depth++
			}
		case ')':
			if !inSingle {
				depth--
				if depth < 0 {
					return false
				}
			}
		}
	}
	return depth == 0 && !inSingle
}
