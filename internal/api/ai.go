package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"cleanwave/internal/llm"
	"cleanwave/internal/model"
	"cleanwave/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type askEcoBotRequest struct {
	Question string `json:"question" binding:"required"`
}

// acquireAIToken 为文本生成请求取一个限流令牌。
//
// 超时（客户端断开）返回 429；限流未启用时直接放行。
func (s *Server) acquireAIToken(c *gin.Context) bool {
	if err := s.aiLimiter.Acquire(c.Request.Context()); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitTimeout) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return false
		}
		s.logger.Error("acquire rate limit token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return false
	}
	return true
}

// handleGeneratePost 为活动生成社交媒体文案，仅组织者可用。
//
// POST /api/events/:id/generate-post
func (s *Server) handleGeneratePost(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	event, err := s.loadEvent(c, eventID)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	if event.OrganizerID != getUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the event organizer can generate posts"})
		return
	}

	volunteerCount, err := s.regStore.CountForEvent(c.Request.Context(), eventID)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	var logs []model.WasteLog
	if err := s.db.WithContext(c.Request.Context()).
		Where("event_id = ?", eventID).
		Find(&logs).Error; err != nil {
		s.respondDomainError(c, err)
		return
	}
	totalWaste := decimal.Zero
	for i := range logs {
		totalWaste = totalWaste.Add(logs[i].Quantity)
	}

	if !s.acquireAIToken(c) {
		return
	}

	prompt := fmt.Sprintf(`Generate an engaging social media post for a beach cleanup event with the following details:
Event: %s
Location: %s
Date: %s
Time: %s to %s
Volunteers: %d
Total Waste Collected: %s kg

The post should be engaging, highlight the impact, and encourage more participation.
Keep it under 280 characters for Twitter compatibility.`,
		event.Title, event.Location, event.Date, event.TimeStart, event.TimeEnd,
		volunteerCount, totalWaste.String())

	post, err := s.generator.Generate(c.Request.Context(), llm.Request{
		Prompt:       prompt,
		SystemPrompt: "You are a social media expert helping to create engaging posts for environmental events.",
		Temperature:  0.7,
		MaxTokens:    200,
	})
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post})
}

// handleAskEcoBot 基于活动上下文回答志愿者的问题。
//
// POST /api/events/:id/ask-ecobot
func (s *Server) handleAskEcoBot(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	event, err := s.loadEvent(c, eventID)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	var req askEcoBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Question is required"})
		return
	}

	if !s.acquireAIToken(c) {
		return
	}

	prompt := fmt.Sprintf(`Event Context:
Title: %s
Description: %s
Location: %s
Date: %s
Time: %s to %s
What to Bring: %s
Safety Protocols: %s

User Question: %s

Please answer the question based ONLY on the provided event context. If the question cannot be answered using the context, say so.`,
		event.Title, event.Description, event.Location, event.Date,
		event.TimeStart, event.TimeEnd,
		strings.Join(event.WhatToBring, ", "),
		strings.Join(event.SafetyProtocols, ", "),
		req.Question)

	answer, err := s.generator.Generate(c.Request.Context(), llm.Request{
		Prompt:       prompt,
		SystemPrompt: "You are EcoBot, an AI assistant that helps volunteers with event-related questions. Only use the provided context to answer questions.",
		Temperature:  0.3, // 答案需要贴住上下文，压低随机性
		MaxTokens:    500,
	})
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"answer": answer})
}
