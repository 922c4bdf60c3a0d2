package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cleanwave/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// createWasteLogRequest 创建垃圾记录的请求参数。
type createWasteLogRequest struct {
	WasteType string           `json:"wasteType" binding:"required"`
	Quantity  *decimal.Decimal `json:"quantity" binding:"required"`
	Unit      string           `json:"unit" binding:"required"`
	Notes     *string          `json:"notes"`
}

// updateWasteLogRequest 部分更新垃圾记录的请求参数。
//
// Notes 用 RawMessage 以区分“未提供”与“显式传 null 清空”。
type updateWasteLogRequest struct {
	WasteType *string          `json:"wasteType"`
	Quantity  *decimal.Decimal `json:"quantity"`
	Unit      *string          `json:"unit"`
	Notes     json.RawMessage  `json:"notes"`
}

type wasteLogResponse struct {
	ID        uint            `json:"id"`
	EventID   uint            `json:"event_id"`
	UserID    uint            `json:"user_id"`
	WasteType string          `json:"waste_type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	Notes     *string         `json:"notes"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toWasteLogResponse(log *model.WasteLog) wasteLogResponse {
	return wasteLogResponse{
		ID:        log.ID,
		EventID:   log.EventID,
		UserID:    log.UserID,
		WasteType: log.WasteType,
		Quantity:  log.Quantity,
		Unit:      log.Unit,
		Notes:     log.Notes,
		CreatedAt: log.CreatedAt,
		UpdatedAt: log.UpdatedAt,
	}
}

// loadEvent 按 ID 加载活动，不存在时返回 ErrNotFound。
func (s *Server) loadEvent(c *gin.Context, eventID uint) (*model.Event, error) {
	var event model.Event
	if err := s.db.WithContext(c.Request.Context()).First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

// handleListEventWasteLogs 返回活动的垃圾记录。
//
// 只有组织者或已报名的志愿者可以查看。
//
// GET /api/waste-logs/event/:id
func (s *Server) handleListEventWasteLogs(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID := getUserID(c)

	event, err := s.loadEvent(c, eventID)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	if event.OrganizerID != userID {
		registered, err := s.regStore.HasRegistration(c.Request.Context(), eventID, userID)
		if err != nil {
			s.respondDomainError(c, err)
			return
		}
		if !registered {
			s.respondDomainError(c, model.ErrForbidden)
			return
		}
	}

	var logs []model.WasteLog
	if err := s.db.WithContext(c.Request.Context()).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		Find(&logs).Error; err != nil {
		s.logger.Error("list waste logs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list waste logs failed"})
		return
	}

	out := make([]wasteLogResponse, 0, len(logs))
	for i := range logs {
		out = append(out, toWasteLogResponse(&logs[i]))
	}
	c.JSON(http.StatusOK, out)
}

// handleCreateWasteLog 创建垃圾记录。
//
// 记录人必须是志愿者且在该活动上有有效报名。
//
// POST /api/waste-logs/event/:id
func (s *Server) handleCreateWasteLog(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID := getUserID(c)

	if getUserRole(c) != model.RoleVolunteer {
		s.respondDomainError(c, model.ErrForbidden)
		return
	}

	if _, err := s.loadEvent(c, eventID); err != nil {
		s.respondDomainError(c, err)
		return
	}

	registered, err := s.regStore.HasRegistration(c.Request.Context(), eventID, userID)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	if !registered {
		s.respondDomainError(c, model.ErrForbidden)
		return
	}

	var req createWasteLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Quantity.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be non-negative"})
		return
	}

	log := model.WasteLog{
		EventID:   eventID,
		UserID:    userID,
		WasteType: req.WasteType,
		Quantity:  *req.Quantity,
		Unit:      req.Unit,
		Notes:     req.Notes,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&log).Error; err != nil {
		s.logger.Error("create waste log failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create waste log failed"})
		return
	}

	c.JSON(http.StatusCreated, toWasteLogResponse(&log))
}

// handleUpdateWasteLog 部分更新垃圾记录，仅记录人本人可操作。
//
// PUT /api/waste-logs/:id
func (s *Server) handleUpdateWasteLog(c *gin.Context) {
	logID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var log model.WasteLog
	if err := s.db.WithContext(c.Request.Context()).First(&log, logID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondDomainError(c, model.ErrNotFound)
			return
		}
		s.respondDomainError(c, err)
		return
	}
	if log.UserID != getUserID(c) {
		s.respondDomainError(c, model.ErrForbidden)
		return
	}

	var req updateWasteLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.WasteType != nil {
		updates["waste_type"] = *req.WasteType
	}
	if req.Quantity != nil {
		if req.Quantity.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be non-negative"})
			return
		}
		updates["quantity"] = *req.Quantity
	}
	if req.Unit != nil {
		updates["unit"] = *req.Unit
	}
	if len(req.Notes) > 0 {
		if string(req.Notes) == "null" {
			updates["notes"] = nil
		} else {
			var notes string
			if err := json.Unmarshal(req.Notes, &notes); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notes"})
				return
			}
			updates["notes"] = notes
		}
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(c.Request.Context()).
			Model(&log).Updates(updates).Error; err != nil {
			s.logger.Error("update waste log failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update waste log failed"})
			return
		}
		if err := s.db.WithContext(c.Request.Context()).First(&log, logID).Error; err != nil {
			s.respondDomainError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, toWasteLogResponse(&log))
}

// handleDeleteWasteLog 删除垃圾记录（硬删除），仅记录人本人可操作。
//
// DELETE /api/waste-logs/:id
func (s *Server) handleDeleteWasteLog(c *gin.Context) {
	logID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var log model.WasteLog
	if err := s.db.WithContext(c.Request.Context()).First(&log, logID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondDomainError(c, model.ErrNotFound)
			return
		}
		s.respondDomainError(c, err)
		return
	}
	if log.UserID != getUserID(c) {
		s.respondDomainError(c, model.ErrForbidden)
		return
	}

	if err := s.db.WithContext(c.Request.Context()).Delete(&log).Error; err != nil {
		s.logger.Error("delete waste log failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete waste log failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Waste log deleted successfully"})
}

// handleEventAnalytics 返回活动的垃圾统计，仅组织者可查看。
//
// 求和在 decimal 上进行，保证大量小数条目累加不产生浮点漂移，
// sum(wasteByType) 恒等于 totalWaste。
//
// GET /api/waste-logs/event/:id/analytics
func (s *Server) handleEventAnalytics(c *gin.Context) {
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
		s.respondDomainError(c, model.ErrForbidden)
		return
	}

	var logs []model.WasteLog
	if err := s.db.WithContext(c.Request.Context()).
		Where("event_id = ?", eventID).
		Find(&logs).Error; err != nil {
		s.logger.Error("load waste logs failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics failed"})
		return
	}

	totalWaste := decimal.Zero
	wasteByType := make(map[string]decimal.Decimal)
	for i := range logs {
		totalWaste = totalWaste.Add(logs[i].Quantity)
		wasteByType[logs[i].WasteType] = wasteByType[logs[i].WasteType].Add(logs[i].Quantity)
	}

	c.JSON(http.StatusOK, gin.H{
		"totalWaste":  totalWaste,
		"wasteByType": wasteByType,
		"totalLogs":   len(logs),
	})
}
