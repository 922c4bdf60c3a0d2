package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	appconfig "cleanwave/internal/config"
	"cleanwave/internal/pkg/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// bedrockGenerator 通过 Amazon Bedrock 调用 Anthropic 模型。
type bedrockGenerator struct {
	client  *bedrockruntime.Client
	modelID string
	logger  *slog.Logger
}

func newBedrockGenerator(ctx context.Context, cfg *appconfig.LLMConfig, logger *slog.Logger) (*bedrockGenerator, error) {
	// 契约要求失败不自动重试，因此把 SDK 的尝试次数压到 1。
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &bedrockGenerator{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.ModelID,
		logger:  logger,
	}, nil
}

// anthropic messages 请求/响应体。
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate 实现 Generator。
func (g *bedrockGenerator) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		System:           req.SystemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrGeneration, err)
	}

	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		metrics.LLMRequestTotal.WithLabelValues("bedrock", "error").Inc()
		if g.logger != nil {
			g.logger.Error("bedrock invoke failed", slog.String("error", err.Error()))
		}
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		metrics.LLMRequestTotal.WithLabelValues("bedrock", "error").Inc()
		return "", fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	if len(resp.Content) == 0 {
		metrics.LLMRequestTotal.WithLabelValues("bedrock", "error").Inc()
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}

	metrics.LLMRequestTotal.WithLabelValues("bedrock", "ok").Inc()
	return resp.Content[0].Text, nil
}
