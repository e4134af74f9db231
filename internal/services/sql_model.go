package services

import (
	"context"
	"errors"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/boqhub/text2sql-go/internal/errors"
)

// ChatModel 定义SQL生成所需的大模型补全接口
type ChatModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Ready() bool
}

// NoopChatModel 默认占位实现
type NoopChatModel struct{}

func (n *NoopChatModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", apperrors.NewModelGenerationFailure(errors.New("chat model provider not configured"))
}

func (n *NoopChatModel) Ready() bool {
	return false
}

// OpenAIChatModel 使用OpenAI Chat Completion API。
// 采样温度默认为0：SQL生成追求确定性而非多样性。
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAIChatModel 创建OpenAI补全模型
func NewOpenAIChatModel(apiKey, baseURL, model string, temperature float64, maxTokens int) ChatModel {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &NoopChatModel{}
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if maxTokens == 0 {
		maxTokens = 1024
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIChatModel{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: float32(temperature),
		maxTokens:   maxTokens,
	}
}

func (m *OpenAIChatModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if m.client == nil {
		return "", apperrors.NewModelGenerationFailure(errors.New("openai client not initialized"))
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Temperature: effectiveTemperature(m.temperature),
		MaxTokens:   m.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", apperrors.NewModelGenerationFailure(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewModelGenerationFailure(errors.New("completion response empty"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (m *OpenAIChatModel) Ready() bool {
	return m.client != nil
}

// effectiveTemperature 请求体中Temperature字段带omitempty，
// 温度0会被整个省略、退回服务端默认值1.0。
// 用最小正float32代替0，保证确定性采样真正下发到API。
func effectiveTemperature(temperature float32) float32 {
	if temperature == 0 {
		return math.SmallestNonzeroFloat32
	}
	return temperature
}
