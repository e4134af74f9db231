package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/boqhub/text2sql-go/internal/errors"
	"github.com/boqhub/text2sql-go/internal/knowledge"
)

// MockSchemaSource 模拟Schema检索接口
type MockSchemaSource struct {
	mock.Mock
}

func (m *MockSchemaSource) Retrieve(ctx context.Context, question string) (*knowledge.RetrievalContext, error) {
	args := m.Called(ctx, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*knowledge.RetrievalContext), args.Error(1)
}

// stubChatModel 返回固定SQL并记录调用次数
type stubChatModel struct {
	reply string
	err   error
	calls int
}

func (s *stubChatModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubChatModel) Ready() bool { return true }

func usersOrdersContext() *knowledge.RetrievalContext {
	tables := []knowledge.SchemaMatch{
		{VectorID: "t1", Content: "users table stores accounts", ChunkType: knowledge.ChunkTypeTableOverview, TableName: "users", Score: 0.92},
		{VectorID: "t2", Content: "orders table stores purchases", ChunkType: knowledge.ChunkTypeTableOverview, TableName: "orders", Score: 0.81},
	}
	columns := []knowledge.SchemaMatch{
		{VectorID: "c1", Content: "users.name display name", ChunkType: knowledge.ChunkTypeColumnDetail, TableName: "users", Score: 0.7},
		{VectorID: "c2", Content: "orders.total amount in cents", ChunkType: knowledge.ChunkTypeColumnDetail, TableName: "orders", Score: 0.66},
	}
	relationships := []knowledge.SchemaMatch{
		{VectorID: "r1", Content: "orders.user_id references users.id", ChunkType: knowledge.ChunkTypeRelationship, TableName: "orders", Score: 0.6},
	}
	rc := &knowledge.RetrievalContext{
		Tables:        tables,
		Relationships: relationships,
	}
	rc.AllChunks = append(rc.AllChunks, tables...)
	rc.AllChunks = append(rc.AllChunks, columns...)
	rc.AllChunks = append(rc.AllChunks, relationships...)
	return rc
}

func TestGenerateSQLHappyPath(t *testing.T) {
	source := new(MockSchemaSource)
	source.On("Retrieve", mock.Anything, "how many orders per user").Return(usersOrdersContext(), nil)
	model := &stubChatModel{reply: "```sql\nSELECT users.name, COUNT(orders.id) FROM users JOIN orders ON orders.user_id = users.id GROUP BY users.name\n```"}

	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	result, err := gen.GenerateSQL(context.Background(), "how many orders per user", "", true)
	require.NoError(t, err)

	assert.True(t, result.ExecutionReady)
	assert.Empty(t, result.Errors)
	assert.Contains(t, result.SQL, "JOIN orders")
	assert.NotContains(t, result.SQL, "```")
	assert.Greater(t, result.Confidence, 0.5)
	assert.NotNil(t, result.RetrievedContext)
	source.AssertExpectations(t)
}

func TestGenerateSQLNoMatchingSchemaSkipsModel(t *testing.T) {
	source := new(MockSchemaSource)
	source.On("Retrieve", mock.Anything, mock.Anything).
		Return(nil, apperrors.NewNoMatchingSchema("what is the weather"))
	model := &stubChatModel{reply: "SELECT 1"}

	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	_, err := gen.GenerateSQL(context.Background(), "what is the weather", "", true)

	require.Error(t, err)
	assert.True(t, apperrors.IsNoMatchingSchema(err))
	// 空上下文绝不触发模型调用
	assert.Equal(t, 0, model.calls)
}

func TestGenerateSQLForbiddenTableRecordedNotFatal(t *testing.T) {
	source := new(MockSchemaSource)
	source.On("Retrieve", mock.Anything, mock.Anything).Return(usersOrdersContext(), nil)
	model := &stubChatModel{reply: "SELECT * FROM payments"}

	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	result, err := gen.GenerateSQL(context.Background(), "list payments", "", true)
	require.NoError(t, err)

	assert.False(t, result.ExecutionReady)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], IssueForbiddenTable)
	assert.NotEmpty(t, result.SQL)
}

func TestGenerateSQLRelationshipEndorsedTableAllowed(t *testing.T) {
	rc := usersOrdersContext()
	// 关系块引用了audit_logs，即便一阶段没识别出该表也允许join
	rc.Relationships = append(rc.Relationships, knowledge.SchemaMatch{
		VectorID:  "r2",
		Content:   "audit_logs.user_id references users.id",
		ChunkType: knowledge.ChunkTypeRelationship,
		TableName: "audit_logs",
		Score:     0.55,
	})
	rc.AllChunks = append(rc.AllChunks, rc.Relationships[len(rc.Relationships)-1])

	source := new(MockSchemaSource)
	source.On("Retrieve", mock.Anything, mock.Anything).Return(rc, nil)
	model := &stubChatModel{reply: "SELECT users.name FROM users JOIN audit_logs ON audit_logs.user_id = users.id"}

	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	result, err := gen.GenerateSQL(context.Background(), "who changed what", "", true)
	require.NoError(t, err)
	assert.True(t, result.ExecutionReady)
	assert.Empty(t, result.Errors)
}

func TestGenerateSQLModelFailure(t *testing.T) {
	source := new(MockSchemaSource)
	source.On("Retrieve", mock.Anything, mock.Anything).Return(usersOrdersContext(), nil)
	model := &stubChatModel{err: apperrors.NewModelGenerationFailure(context.DeadlineExceeded)}

	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	_, err := gen.GenerateSQL(context.Background(), "how many orders", "", true)
	require.Error(t, err)
	assert.True(t, apperrors.IsModelGenerationFailure(err))
}

func TestGenerateSQLSkipValidation(t *testing.T) {
	source := new(MockSchemaSource)
	source.On("Retrieve", mock.Anything, mock.Anything).Return(usersOrdersContext(), nil)
	model := &stubChatModel{reply: "SELECT * FROM payments"}

	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	result, err := gen.GenerateSQL(context.Background(), "list payments", "", false)
	require.NoError(t, err)

	// 跳过校验时禁止表引用不会被记录
	assert.Empty(t, result.Errors)
	assert.True(t, result.ExecutionReady)
}

func TestGenerateSQLEmptyModelReply(t *testing.T) {
	source := new(MockSchemaSource)
	source.On("Retrieve", mock.Anything, mock.Anything).Return(usersOrdersContext(), nil)
	model := &stubChatModel{reply: "I cannot answer that."}

	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	result, err := gen.GenerateSQL(context.Background(), "how many orders", "", true)
	require.NoError(t, err)
	assert.False(t, result.ExecutionReady)
}

func TestExtractSQL(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"fenced sql", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"fenced plain", "```\nSELECT 1\n```", "SELECT 1"},
		{"prose prefix", "Here is the query:\nSELECT name FROM users", "SELECT name FROM users"},
		{"cte", "with t as (select 1) select * from t", "with t as (select 1) select * from t"},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractSQL(tc.raw))
		})
	}
}

func TestScoreConfidenceBounds(t *testing.T) {
	source := new(MockSchemaSource)
	source.On("Retrieve", mock.Anything, mock.Anything).Return(usersOrdersContext(), nil)
	model := &stubChatModel{reply: "DELETE FROM payments; DROP TABLE users"}

	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	result, err := gen.GenerateSQL(context.Background(), "break things", "", true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.False(t, result.ExecutionReady)
}
