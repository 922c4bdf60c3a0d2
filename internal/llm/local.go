package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	appconfig "cleanwave/internal/config"
	"cleanwave/internal/pkg/metrics"
)

// localGenerator 调用本地 OpenAI 兼容端点（如 LM Studio）。
type localGenerator struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *slog.Logger
}

func newLocalGenerator(cfg *appconfig.LLMConfig, logger *slog.Logger) *localGenerator {
	return &localGenerator{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.APIBase,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		logger:     logger,
	}
}

// chat completions 请求/响应体。
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate 实现 Generator。
func (g *localGenerator) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrGeneration, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		metrics.LLMRequestTotal.WithLabelValues("local", "error").Inc()
		if g.logger != nil {
			g.logger.Error("local llm request failed", slog.String("error", err.Error()))
		}
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.LLMRequestTotal.WithLabelValues("local", "error").Inc()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrGeneration, resp.StatusCode, raw)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.LLMRequestTotal.WithLabelValues("local", "error").Inc()
		return "", fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	if len(out.Choices) == 0 {
		metrics.LLMRequestTotal.WithLabelValues("local", "error").Inc()
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}

	metrics.LLMRequestTotal.WithLabelValues("local", "ok").Inc()
	return out.Choices[0].Message.Content, nil
}
