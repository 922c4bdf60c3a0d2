package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cleanwave/internal/model"
	"cleanwave/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// createEventRequest 创建活动的请求参数。
type createEventRequest struct {
	Title           string   `json:"title" binding:"required"`
	Description     string   `json:"description" binding:"required"`
	Date            string   `json:"date" binding:"required"`
	TimeStart       string   `json:"time_start" binding:"required"`
	TimeEnd         string   `json:"time_end" binding:"required"`
	Location        string   `json:"location" binding:"required"`
	City            string   `json:"city" binding:"required"`
	State           string   `json:"state" binding:"required"`
	WhatToBring     []string `json:"what_to_bring"`
	SafetyProtocols []string `json:"safety_protocols"`
	Tags            []string `json:"tags"`
	MaxParticipants *int     `json:"max_participants"`
}

// updateEventRequest 部分更新活动的请求参数。
//
// 指针为 nil 表示“未提供，保持不变”。Tags 用 RawMessage 以区分
// “未提供”与“显式传 null 清空”这两种情况。
type updateEventRequest struct {
	Title           *string         `json:"title"`
	Description     *string         `json:"description"`
	Date            *string         `json:"date"`
	TimeStart       *string         `json:"time_start"`
	TimeEnd         *string         `json:"time_end"`
	Location        *string         `json:"location"`
	City            *string         `json:"city"`
	State           *string         `json:"state"`
	WhatToBring     []string        `json:"what_to_bring"`
	SafetyProtocols []string        `json:"safety_protocols"`
	Tags            json.RawMessage `json:"tags"`
	MaxParticipants *int            `json:"max_participants"`
	IsActive        *bool           `json:"is_active"`
}

type eventResponse struct {
	ID              uint             `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Location        string           `json:"location"`
	Latitude        *float64         `json:"latitude"`
	Longitude       *float64         `json:"longitude"`
	Date            string           `json:"date"`
	TimeStart       string           `json:"time_start"`
	TimeEnd         string           `json:"time_end"`
	City            string           `json:"city"`
	State           string           `json:"state"`
	OrganizerID     uint             `json:"organizer_id"`
	WhatToBring     model.StringList `json:"what_to_bring"`
	SafetyProtocols model.StringList `json:"safety_protocols"`
	Tags            model.StringList `json:"tags"`
	MaxParticipants int              `json:"max_participants"`
	IsActive        bool             `json:"is_active"`
	VolunteerCount  int64            `json:"volunteer_count"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type mapDataItem struct {
	ID             uint    `json:"id"`
	Title          string  `json:"title"`
	Location       string  `json:"location"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Date           string  `json:"date"`
	VolunteerCount int64   `json:"volunteer_count"`
}

func toEventResponse(event *model.Event, volunteerCount int64) eventResponse {
	return eventResponse{
		ID:              event.ID,
		Title:           event.Title,
		Description:     event.Description,
		Location:        event.Location,
		Latitude:        event.Latitude,
		Longitude:       event.Longitude,
		Date:            event.Date,
		TimeStart:       event.TimeStart,
		TimeEnd:         event.TimeEnd,
		City:            event.City,
		State:           event.State,
		OrganizerID:     event.OrganizerID,
		WhatToBring:     event.WhatToBring,
		SafetyProtocols: event.SafetyProtocols,
		Tags:            event.Tags,
		MaxParticipants: event.MaxParticipants,
		IsActive:        event.IsActive,
		VolunteerCount:  volunteerCount,
		CreatedAt:       event.CreatedAt,
		UpdatedAt:       event.UpdatedAt,
	}
}

// validDate 校验 YYYY-MM-DD。
func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// validClock 校验 HH:MM。
func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}

// volunteerCounts 按活动统计报名人数。
func (s *Server) volunteerCounts(c *gin.Context, eventIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(eventIDs))
	if len(eventIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		EventID uint  `gorm:"column:event_id"`
		Total   int64 `gorm:"column:total"`
	}
	if err := s.db.WithContext(c.Request.Context()).
		Model(&model.EventRegistration{}).
		Select("event_id, COUNT(*) AS total").
		Where("event_id IN ?", eventIDs).
		Group("event_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.EventID] = row.Total
	}
	return counts, nil
}

// handleListEvents 返回所有有效活动。
//
// GET /api/events
func (s *Server) handleListEvents(c *gin.Context) {
	var events []model.Event
	if err := s.db.WithContext(c.Request.Context()).
		Where("is_active = ?", true).
		Order("date ASC, time_start ASC").
		Find(&events).Error; err != nil {
		s.logger.Error("list events failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}

	ids := make([]uint, 0, len(events))
	for i := range events {
		ids = append(ids, events[i].ID)
	}
	counts, err := s.volunteerCounts(c, ids)
	if err != nil {
		s.logger.Error("count registrations failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}

	// 空结果要序列化成 [] 而不是 null。
	out := make([]eventResponse, 0, len(events))
	for i := range events {
		out = append(out, toEventResponse(&events[i], counts[events[i].ID]))
	}
	c.JSON(http.StatusOK, out)
}

// handleGetEvent 按 ID 返回单个活动。软删除的活动仍可按 ID 读取。
//
// GET /api/events/:id
func (s *Server) handleGetEvent(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var event model.Event
	if err := s.db.WithContext(c.Request.Context()).First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondDomainError(c, model.ErrNotFound)
			return
		}
		s.respondDomainError(c, err)
		return
	}

	count, err := s.regStore.CountForEvent(c.Request.Context(), event.ID)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEventResponse(&event, count))
}

// handleCreateEvent 创建活动。
//
// 地理编码是尽力而为：失败只意味着活动没有坐标，不阻塞创建。
//
// POST /api/events
func (s *Server) handleCreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// 列表字段必须出现在请求体里，空列表是合法值
	if req.WhatToBring == nil || req.SafetyProtocols == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "what_to_bring and safety_protocols are required"})
		return
	}
	if !validDate(req.Date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}
	if !validClock(req.TimeStart) || !validClock(req.TimeEnd) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time, expected HH:MM"})
		return
	}

	maxParticipants := model.DefaultMaxParticipants
	if req.MaxParticipants != nil {
		if *req.MaxParticipants < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_participants"})
			return
		}
		maxParticipants = *req.MaxParticipants
	}

	event := model.Event{
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		Date:            req.Date,
		TimeStart:       req.TimeStart,
		TimeEnd:         req.TimeEnd,
		City:            req.City,
		State:           req.State,
		OrganizerID:     getUserID(c),
		WhatToBring:     model.StringList(req.WhatToBring),
		SafetyProtocols: model.StringList(req.SafetyProtocols),
		Tags:            model.StringList(req.Tags),
		MaxParticipants: maxParticipants,
		IsActive:        true,
	}

	if coords, ok := s.geocoder.Resolve(c.Request.Context(), event.FullAddress()); ok {
		event.Latitude = &coords.Latitude
		event.Longitude = &coords.Longitude
	}

	if err := s.db.WithContext(c.Request.Context()).Create(&event).Error; err != nil {
		s.logger.Error("create event failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create event failed"})
		return
	}

	s.logger.Info("event created",
		slog.Uint64("event_id", uint64(event.ID)),
		slog.Uint64("organizer_id", uint64(event.OrganizerID)),
	)
	c.JSON(http.StatusCreated, toEventResponse(&event, 0))
}

// handleUpdateEvent 部分更新活动，仅组织者可操作。
//
// 修改地点不会触发重新地理编码，坐标保持创建时的值。
//
// PUT /api/events/:id
func (s *Server) handleUpdateEvent(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var event model.Event
	if err := s.db.WithContext(c.Request.Context()).First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondDomainError(c, model.ErrNotFound)
			return
		}
		s.respondDomainError(c, err)
		return
	}
	if event.OrganizerID != getUserID(c) {
		s.respondDomainError(c, model.ErrForbidden)
		return
	}

	var req updateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Date != nil {
		if !validDate(*req.Date) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return
		}
		updates["date"] = *req.Date
	}
	if req.TimeStart != nil {
		if !validClock(*req.TimeStart) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time_start, expected HH:MM"})
			return
		}
		updates["time_start"] = *req.TimeStart
	}
	if req.TimeEnd != nil {
		if !validClock(*req.TimeEnd) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time_end, expected HH:MM"})
			return
		}
		updates["time_end"] = *req.TimeEnd
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.City != nil {
		updates["city"] = *req.City
	}
	if req.State != nil {
		updates["state"] = *req.State
	}
	if req.WhatToBring != nil {
		updates["what_to_bring"] = model.StringList(req.WhatToBring)
	}
	if req.SafetyProtocols != nil {
		updates["safety_protocols"] = model.StringList(req.SafetyProtocols)
	}
	if len(req.Tags) > 0 {
		if string(req.Tags) == "null" {
			updates["tags"] = model.StringList{}
		} else {
			var tags model.StringList
			if err := json.Unmarshal(req.Tags, &tags); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tags"})
				return
			}
			updates["tags"] = tags
		}
	}
	if req.MaxParticipants != nil {
		if *req.MaxParticipants < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_participants"})
			return
		}
		updates["max_participants"] = *req.MaxParticipants
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(c.Request.Context()).
			Model(&event).Updates(updates).Error; err != nil {
			s.logger.Error("update event failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update event failed"})
			return
		}
		if err := s.db.WithContext(c.Request.Context()).First(&event, eventID).Error; err != nil {
			s.respondDomainError(c, err)
			return
		}
	}

	count, err := s.regStore.CountForEvent(c.Request.Context(), event.ID)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEventResponse(&event, count))
}

// handleDeleteEvent 软删除活动，仅组织者可操作。
//
// 只置 is_active=false，报名与垃圾记录保持原样。
//
// DELETE /api/events/:id
func (s *Server) handleDeleteEvent(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var event model.Event
	if err := s.db.WithContext(c.Request.Context()).First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondDomainError(c, model.ErrNotFound)
			return
		}
		s.respondDomainError(c, err)
		return
	}
	if event.OrganizerID != getUserID(c) {
		s.respondDomainError(c, model.ErrForbidden)
		return
	}

	if err := s.db.WithContext(c.Request.Context()).
		Model(&event).Update("is_active", false).Error; err != nil {
		s.logger.Error("delete event failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete event failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Event deleted successfully"})
}

// handleJoinEvent 报名活动。
//
// POST /api/events/:id/join
func (s *Server) handleJoinEvent(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	err := s.regStore.Join(c.Request.Context(), eventID, getUserID(c))
	switch {
	case err == nil:
		metrics.EventJoinTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, model.ErrNotFound):
		metrics.EventJoinTotal.WithLabelValues("not_found").Inc()
	case errors.Is(err, model.ErrEventInactive):
		metrics.EventJoinTotal.WithLabelValues("inactive").Inc()
	case errors.Is(err, model.ErrConflict):
		metrics.EventJoinTotal.WithLabelValues("duplicate").Inc()
	case errors.Is(err, model.ErrCapacityExceeded):
		metrics.EventJoinTotal.WithLabelValues("full").Inc()
	default:
		metrics.EventJoinTotal.WithLabelValues("error").Inc()
	}
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Successfully joined event"})
}

// handleLeaveEvent 退出活动。
//
// POST /api/events/:id/leave
func (s *Server) handleLeaveEvent(c *gin.Context) {
	eventID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := s.regStore.Leave(c.Request.Context(), eventID, getUserID(c)); err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully left event"})
}

// handleMapData 返回地图投影。
//
// 缺坐标的活动在这里懒加载地理编码并回写；仍然解析不出的活动
// 从结果中省略，而不是带空坐标返回。
//
// GET /api/events/map-data
func (s *Server) handleMapData(c *gin.Context) {
	var events []model.Event
	if err := s.db.WithContext(c.Request.Context()).
		Where("is_active = ?", true).
		Find(&events).Error; err != nil {
		s.logger.Error("list events failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "map data failed"})
		return
	}

	ids := make([]uint, 0, len(events))
	for i := range events {
		ids = append(ids, events[i].ID)
	}
	counts, err := s.volunteerCounts(c, ids)
	if err != nil {
		s.logger.Error("count registrations failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "map data failed"})
		return
	}

	items := make([]mapDataItem, 0, len(events))
	for i := range events {
		event := &events[i]
		if event.Latitude == nil || event.Longitude == nil {
			coords, ok := s.geocoder.Resolve(c.Request.Context(), event.FullAddress())
			if !ok {
				continue
			}
			event.Latitude = &coords.Latitude
			event.Longitude = &coords.Longitude
			if err := s.db.WithContext(c.Request.Context()).Model(event).
				Updates(map[string]interface{}{
					"latitude":  coords.Latitude,
					"longitude": coords.Longitude,
				}).Error; err != nil {
				s.logger.Warn("persist coordinates failed",
					slog.Uint64("event_id", uint64(event.ID)),
					slog.String("error", err.Error()),
				)
			}
		}
		items = append(items, mapDataItem{
			ID:             event.ID,
			Title:          event.Title,
			Location:       event.Location,
			Latitude:       *event.Latitude,
			Longitude:      *event.Longitude,
			Date:           event.Date,
			VolunteerCount: counts[event.ID],
		})
	}

	c.JSON(http.StatusOK, items)
}
