package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/boqhub/text2sql-go/internal/knowledge"
)

func newTestRouter(reply string) (*QueryRouter, *MockSchemaSource) {
	registry := NewTableRegistry([]string{"users", "orders", "ran_lld"})
	source := new(MockSchemaSource)
	model := &stubChatModel{reply: reply}
	gen := NewSQLGenerator(source, model, SQLGeneratorOptions{}, nil, nil)
	return NewQueryRouter(registry, gen, nil, nil), source
}

func TestClassifyTableMention(t *testing.T) {
	router, _ := newTestRouter("")

	decision := router.Classify("fetch me ran_lld")
	assert.Equal(t, IntentDatabase, decision.Intent)
	assert.Equal(t, RuleTableMention, decision.MatchedRule)
	assert.Equal(t, "ran_lld", decision.MatchedTable)
}

func TestClassifyTableMentionNeverFallsToChat(t *testing.T) {
	router, _ := newTestRouter("")

	// 没有任何检索关键词，仅凭表名提及也必须判为数据库意图
	for _, q := range []string{
		"ran_lld?",
		"tell me about the Users situation",
		"what's in ran lld",
		"ranlld please",
	} {
		decision := router.Classify(q)
		assert.Equal(t, IntentDatabase, decision.Intent, "question: %s", q)
		assert.Equal(t, RuleTableMention, decision.MatchedRule, "question: %s", q)
	}
}

func TestClassifyRetrievalKeyword(t *testing.T) {
	router, _ := newTestRouter("")

	for _, q := range []string{
		"how many sites were deployed last month",
		"show me the latest deliveries",
		"count the failed jobs",
	} {
		decision := router.Classify(q)
		assert.Equal(t, IntentDatabase, decision.Intent, "question: %s", q)
		assert.Equal(t, RuleRetrievalKeyword, decision.MatchedRule, "question: %s", q)
	}
}

func TestClassifyDocumentKeyword(t *testing.T) {
	router, _ := newTestRouter("")

	decision := router.Classify("what does the uploaded file say about warranty")
	assert.Equal(t, IntentDocument, decision.Intent)
	assert.Equal(t, RuleDocumentKeyword, decision.MatchedRule)
}

func TestClassifyDefaultChat(t *testing.T) {
	router, _ := newTestRouter("")

	decision := router.Classify("hello there")
	assert.Equal(t, IntentChat, decision.Intent)
	assert.Equal(t, RuleDefaultChat, decision.MatchedRule)
}

func TestClassifyPriorityTableMentionWins(t *testing.T) {
	router, _ := newTestRouter("")

	// 同时命中表名与文档关键词时表名优先
	decision := router.Classify("according to the document, list users entries")
	assert.Equal(t, RuleTableMention, decision.MatchedRule)
	assert.Equal(t, "users", decision.MatchedTable)
}

func TestRouteDatabaseIntentGeneratesSQL(t *testing.T) {
	router, source := newTestRouter("SELECT * FROM users")
	source.On("Retrieve", mock.Anything, mock.Anything).Return(usersOrdersContext(), nil)

	result, err := router.Route(context.Background(), "list users", "", true)
	require.NoError(t, err)
	require.NotNil(t, result.SQL)
	assert.Nil(t, result.Handoff)
	assert.Equal(t, IntentDatabase, result.Decision.Intent)
}

func TestRouteNonDatabaseIntentReturnsHandoff(t *testing.T) {
	router, source := newTestRouter("")

	result, err := router.Route(context.Background(), "hello there", "", true)
	require.NoError(t, err)
	assert.Nil(t, result.SQL)
	require.NotNil(t, result.Handoff)
	assert.Equal(t, string(IntentChat), result.Handoff.Target)
	assert.Equal(t, "hello there", result.Handoff.Question)
	// 非数据库意图不触发检索
	source.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
}

func TestTableRegistryReplaceAndNames(t *testing.T) {
	registry := NewTableRegistry([]string{"Users", " orders ", ""})
	assert.Equal(t, []string{"orders", "users"}, registry.Names())

	registry.Replace([]string{"sites"})
	assert.Equal(t, []string{"sites"}, registry.Names())
}

func TestTableRegistryRefresh(t *testing.T) {
	store := knowledge.NewMemoryVectorStore(3)
	err := store.UpsertPoints(context.Background(), []knowledge.SchemaPoint{
		{VectorID: "v1", Content: "sites", ChunkType: knowledge.ChunkTypeTableOverview, TableName: "sites", Embedding: []float32{1, 0, 0}},
	})
	require.NoError(t, err)

	registry := NewTableRegistry(nil)
	require.NoError(t, registry.Refresh(context.Background(), store))
	assert.Equal(t, []string{"sites"}, registry.Names())
}

func TestTableRegistryMatch(t *testing.T) {
	registry := NewTableRegistry([]string{"ran_lld", "users"})

	table, ok := registry.Match("show ran_lld rows")
	require.True(t, ok)
	assert.Equal(t, "ran_lld", table)

	// 近似匹配：空格或去下划线写法
	table, ok = registry.Match("show ran lld rows")
	require.True(t, ok)
	assert.Equal(t, "ran_lld", table)

	_, ok = registry.Match("nothing relevant here")
	assert.False(t, ok)
}

func TestTableRegistryMatchRequiresWordBoundary(t *testing.T) {
	registry := NewTableRegistry([]string{"users", "po"})

	// 表名作为其他单词的子串不算提及
	_, ok := registry.Match("abusers are everywhere")
	assert.False(t, ok)

	// 短表名也不得靠子串包含命中
	_, ok = registry.Match("what is the point of this")
	assert.False(t, ok)

	table, ok := registry.Match("open the po records")
	require.True(t, ok)
	assert.Equal(t, "po", table)
}
