// Completion provider ports and the live OpenAI-compatible implementation
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/heartside/heartside/pkg/utils"
)

// completionTemperature is fixed for companion replies.
const completionTemperature float32 = 0.7

// CompletionProvider streams assistant reply deltas for a prepared
// model payload. Implementations are selected once at construction:
// live model or deterministic scripted replies.
type CompletionProvider interface {
	// StreamCompletion yields reply deltas in emission order. The
	// returned stream must be closed by the caller.
	StreamCompletion(ctx context.Context, messages []*schema.Message, maxCompletionTokens int) (*schema.StreamReader[*schema.Message], error)
}

// CaptionGenerator produces a single text response for a caption
// instruction. A nil generator means the deterministic fallback is
// always used.
type CaptionGenerator interface {
	GenerateCaption(ctx context.Context, instruction, prompt string) (string, error)
}

// LiveProvider adapts an OpenAI-compatible chat model for both
// streaming completion and caption generation.
type LiveProvider struct {
	chatModel model.BaseChatModel
	logger    *slog.Logger
}

// LiveProviderConfig configures the upstream OpenAI-compatible model.
type LiveProviderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// NewLiveProvider creates a provider backed by an OpenAI-compatible
// endpoint.
func NewLiveProvider(ctx context.Context, cfg *LiveProviderConfig) (*LiveProvider, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &LiveProvider{
		chatModel: chatModel,
		logger:    utils.GetLogger(),
	}, nil
}

// StreamCompletion implements CompletionProvider.
func (p *LiveProvider) StreamCompletion(ctx context.Context, messages []*schema.Message, maxCompletionTokens int) (*schema.StreamReader[*schema.Message], error) {
	stream, err := p.chatModel.Stream(ctx, messages,
		model.WithMaxTokens(maxCompletionTokens),
		model.WithTemperature(completionTemperature),
	)
	if err != nil {
		return nil, fmt.Errorf("completion stream failed: %w", err)
	}
	return stream, nil
}

// GenerateCaption implements CaptionGenerator with a single
// non-streaming call.
func (p *LiveProvider) GenerateCaption(ctx context.Context, instruction, prompt string) (string, error) {
	messages := []*schema.Message{
		{Role: schema.System, Content: instruction},
		{Role: schema.User, Content: prompt},
	}
	resp, err := p.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("caption generation failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
