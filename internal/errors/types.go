package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 基础设施错误：嵌入服务、向量索引、大模型不可用时直接上抛，不做静默恢复
	ErrCodeEmbeddingUnavailable   ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrCodeVectorIndexUnavailable ErrorCode = "VECTOR_INDEX_UNAVAILABLE"
	ErrCodeModelGenerationFailure ErrorCode = "MODEL_GENERATION_FAILURE"

	// 检索错误：一阶段检索无结果，禁止进入SQL生成
	ErrCodeNoMatchingSchema ErrorCode = "NO_MATCHING_SCHEMA"

	// 校验错误：记录在结果中而非上抛
	ErrCodeForbiddenTable ErrorCode = "FORBIDDEN_TABLE"
	ErrCodeInvalidSQL     ErrorCode = "INVALID_SQL"

	// 输入错误
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidChunk    ErrorCode = "INVALID_CHUNK"
	ErrCodeDimensionError  ErrorCode = "DIMENSION_MISMATCH"
	ErrCodeOperationFailed ErrorCode = "OPERATION_FAILED"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

// AppError 应用错误结构体
type AppError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Type    ErrorType   `json:"type"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// 错误构造函数

// NewEmbeddingUnavailable 嵌入服务不可用
func NewEmbeddingUnavailable(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeEmbeddingUnavailable,
		Message: "embedding service unavailable",
		Type:    ErrorTypeExternal,
		Cause:   cause,
	}
}

// NewVectorIndexUnavailable 向量索引不可用
func NewVectorIndexUnavailable(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeVectorIndexUnavailable,
		Message: "vector index unavailable",
		Type:    ErrorTypeExternal,
		Cause:   cause,
	}
}

// NewModelGenerationFailure 大模型生成失败
func NewModelGenerationFailure(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeModelGenerationFailure,
		Message: "language model generation failed",
		Type:    ErrorTypeExternal,
		Cause:   cause,
	}
}

// NewNoMatchingSchema 未检索到匹配的表结构
func NewNoMatchingSchema(question string) *AppError {
	return &AppError{
		Code:    ErrCodeNoMatchingSchema,
		Message: "no schema chunks matched the question",
		Type:    ErrorTypeBusiness,
		Details: map[string]string{"question": question},
	}
}

// NewInvalidInput 输入无效
func NewInvalidInput(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidInput,
		Message: message,
		Type:    ErrorTypeValidation,
	}
}

// NewOperationFailed 操作失败
func NewOperationFailed(message string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeOperationFailed,
		Message: message,
		Type:    ErrorTypeSystem,
		Cause:   cause,
	}
}

// 错误判定辅助函数

// CodeOf 提取错误码，非AppError返回空字符串
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNoMatchingSchema 判断是否为无匹配Schema错误
func IsNoMatchingSchema(err error) bool {
	return CodeOf(err) == ErrCodeNoMatchingSchema
}

// IsEmbeddingUnavailable 判断是否为嵌入服务不可用错误
func IsEmbeddingUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeEmbeddingUnavailable
}

// IsVectorIndexUnavailable 判断是否为向量索引不可用错误
func IsVectorIndexUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeVectorIndexUnavailable
}

// IsModelGenerationFailure 判断是否为大模型生成失败错误
func IsModelGenerationFailure(err error) bool {
	return CodeOf(err) == ErrCodeModelGenerationFailure
}
