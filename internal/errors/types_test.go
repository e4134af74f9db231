package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewVectorIndexUnavailable(cause)

	assert.Contains(t, err.Error(), "vector index unavailable")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestCodeOfUnwrapsNestedError(t *testing.T) {
	inner := NewEmbeddingUnavailable(stderrors.New("timeout"))
	wrapped := fmt.Errorf("retrieval failed: %w", inner)

	assert.Equal(t, ErrCodeEmbeddingUnavailable, CodeOf(wrapped))
	assert.True(t, IsEmbeddingUnavailable(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
	assert.False(t, IsNoMatchingSchema(stderrors.New("plain")))
}

func TestNoMatchingSchemaCarriesQuestion(t *testing.T) {
	err := NewNoMatchingSchema("what is the weather")
	require.True(t, IsNoMatchingSchema(err))

	details, ok := err.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "what is the weather", details["question"])
}

func TestWithDetailsAndCause(t *testing.T) {
	err := NewInvalidInput("question is empty").
		WithDetails("field: question").
		WithCause(stderrors.New("empty string"))

	assert.Equal(t, ErrCodeInvalidInput, err.Code)
	assert.Equal(t, "field: question", err.Details)
	assert.Contains(t, err.Error(), "empty string")
}
