// Package anthropic implements the LLM port against the Anthropic API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
)

// Default tier mapping, overridable per tier through the factory.
var defaultModels = map[domain.LLMTier]anthropic.Model{
	domain.TierFast:     "claude-3-5-haiku-20241022",
	domain.TierBalanced: "claude-3-5-sonnet-20241022",
	domain.TierDeep:     "claude-3-opus-20240229",
}

// Client calls the Anthropic Messages API.
type Client struct {
	sdk    anthropic.Client
	models map[domain.LLMTier]anthropic.Model
	logger *zap.Logger
}

// NewClient creates an Anthropic-backed LLM client. models maps tiers to
// model names; empty entries fall back to the defaults.
func NewClient(apiKey string, models map[domain.LLMTier]string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	resolved := make(map[domain.LLMTier]anthropic.Model, len(defaultModels))
	for tier, model := range defaultModels {
		resolved[tier] = model
	}
	for tier, model := range models {
		if model != "" {
			resolved[tier] = anthropic.Model(model)
		}
	}

	return &Client{
		sdk:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		models: resolved,
		logger: logger,
	}, nil
}

// Complete sends the conversation and returns the concatenated text blocks
// of the reply.
func (c *Client) Complete(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error) {
	model, ok := c.models[req.Tier]
	if !ok {
		model = c.models[domain.TierBalanced]
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic call: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	c.logger.Debug("anthropic completion",
		zap.String("model", string(model)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))

	return &domain.LLMResponse{
		Content:      text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
