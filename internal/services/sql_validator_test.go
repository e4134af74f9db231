package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allowed(tables ...string) map[string]bool {
	m := make(map[string]bool, len(tables))
	for _, t := range tables {
		m[t] = true
	}
	return m
}

func issueCodes(issues []ValidationIssue) []string {
	codes := make([]string, 0, len(issues))
	for _, i := range issues {
		codes = append(codes, i.Code)
	}
	return codes
}

func TestValidateCleanSelect(t *testing.T) {
	v := NewSQLValidator()
	issues := v.Validate(
		"SELECT u.name, COUNT(o.id) FROM users u JOIN orders o ON o.user_id = u.id GROUP BY u.name;",
		allowed("users", "orders"),
	)
	assert.Empty(t, issues)
}

func TestValidateForbiddenTable(t *testing.T) {
	v := NewSQLValidator()
	issues := v.Validate("SELECT * FROM payments", allowed("users", "orders"))
	require.Len(t, issues, 1)
	assert.Equal(t, IssueForbiddenTable, issues[0].Code)
	assert.Contains(t, issues[0].Message, "payments")
}

func TestValidateForbiddenJoinTarget(t *testing.T) {
	v := NewSQLValidator()
	issues := v.Validate(
		"SELECT * FROM users u JOIN audit_logs a ON a.user_id = u.id",
		allowed("users"),
	)
	assert.Contains(t, issueCodes(issues), IssueForbiddenTable)
}

func TestValidateEmptySQL(t *testing.T) {
	v := NewSQLValidator()
	issues := v.Validate("   ", allowed("users"))
	require.Len(t, issues, 1)
	assert.Equal(t, IssueEmptySQL, issues[0].Code)
}

func TestValidateRejectsWrites(t *testing.T) {
	v := NewSQLValidator()
	for _, sql := range []string{
		"DELETE FROM users",
		"UPDATE users SET name = 'x'",
		"DROP TABLE users",
	} {
		issues := v.Validate(sql, allowed("users"))
		assert.Contains(t, issueCodes(issues), IssueNotReadOnly, "sql: %s", sql)
	}
}

func TestValidateAllowsCTEAndExplain(t *testing.T) {
	v := NewSQLValidator()
	// CTE名不是表引用，不需要出现在检索上下文中
	assert.Empty(t, v.Validate("WITH recent AS (SELECT * FROM users) SELECT * FROM recent", allowed("users")))
	assert.Empty(t, v.Validate("EXPLAIN SELECT * FROM users", allowed("users")))
}

func TestValidateMultipleCTEs(t *testing.T) {
	v := NewSQLValidator()
	sql := `WITH recent AS (SELECT * FROM users), big AS (SELECT * FROM orders)
		SELECT * FROM recent JOIN big ON big.user_id = recent.id`
	assert.Empty(t, v.Validate(sql, allowed("users", "orders")))
}

func TestValidateCTEDoesNotLaunderForbiddenTable(t *testing.T) {
	v := NewSQLValidator()
	// CTE体内引用的真实表仍然要校验
	issues := v.Validate("WITH recent AS (SELECT * FROM payments) SELECT * FROM recent", allowed("users"))
	require.Len(t, issues, 1)
	assert.Equal(t, IssueForbiddenTable, issues[0].Code)
	assert.Contains(t, issues[0].Message, "payments")
}

func TestValidateMultipleStatements(t *testing.T) {
	v := NewSQLValidator()
	issues := v.Validate("SELECT * FROM users; SELECT * FROM orders;", allowed("users", "orders"))
	assert.Contains(t, issueCodes(issues), IssueMultipleStatement)
}

func TestValidateUnbalanced(t *testing.T) {
	v := NewSQLValidator()
	issues := v.Validate("SELECT COUNT( FROM users", allowed("users"))
	assert.Contains(t, issueCodes(issues), IssueUnbalancedParens)

	issues = v.Validate("SELECT * FROM users WHERE name = 'alice", allowed("users"))
	assert.Contains(t, issueCodes(issues), IssueUnbalancedQuotes)
}

func TestValidateParensInsideStringLiteral(t *testing.T) {
	v := NewSQLValidator()
	issues := v.Validate("SELECT * FROM users WHERE note = 'a ( b'", allowed("users"))
	assert.NotContains(t, issueCodes(issues), IssueUnbalancedParens)
}

func TestReferencedTables(t *testing.T) {
	v := NewSQLValidator()
	tables := v.ReferencedTables(
		`SELECT * FROM public.users u JOIN "orders" o ON o.user_id = u.id JOIN users dup ON 1=1`,
	)
	// schema前缀剥离、引号剥离、去重保序
	assert.Equal(t, []string{"users", "orders"}, tables)
}

func TestReferencedTablesIgnoresSubqueryParen(t *testing.T) {
	v := NewSQLValidator()
	tables := v.ReferencedTables("SELECT * FROM (SELECT * FROM users) sub")
	assert.Equal(t, []string{"users"}, tables)
}

func TestQualifiedTables(t *testing.T) {
	v := NewSQLValidator()
	tables := v.QualifiedTables("SELECT users.name, orders.total FROM users JOIN orders ON orders.user_id = users.id")
	assert.ElementsMatch(t, []string{"users", "orders"}, tables)
}
