// Package llm 封装文本生成服务。
//
// 提供方在进程启动时由配置确定一次，之后不可按调用切换。任何提供方
// 失败都不自动重试，由调用方向用户返回错误。
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cleanwave/internal/config"
)

// ErrGeneration 包装提供方的底层失败。
var ErrGeneration = errors.New("text generation failed")

// Request 一次生成请求。
type Request struct {
	Prompt       string  // 用户提示词
	SystemPrompt string  // 系统提示词（可为空）
	Temperature  float64 // 随机程度 0.0 ~ 1.0
	MaxTokens    int     // 生成上限
}

// Generator 文本生成接口。
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// New 根据配置创建生成器。
func New(ctx context.Context, cfg *config.LLMConfig, logger *slog.Logger) (Generator, error) {
	switch cfg.Provider {
	case "bedrock":
		return newBedrockGenerator(ctx, cfg, logger)
	case "local":
		return newLocalGenerator(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
