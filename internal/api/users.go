package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cleanwave/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// updateProfileRequest 更新个人资料的请求参数。
type updateProfileRequest struct {
	FullName *string `json:"fullName"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type profileResponse struct {
	ID         uint      `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Role       string    `json:"role"`
	IsActive   bool      `json:"is_active"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toProfileResponse(user *model.User) profileResponse {
	return profileResponse{
		ID:         user.ID,
		Email:      user.Email,
		FullName:   user.FullName,
		Role:       user.Role,
		IsActive:   user.IsActive,
		IsVerified: user.IsVerified,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  user.UpdatedAt,
	}
}

// loadCurrentUser 加载当前登录用户。
func (s *Server) loadCurrentUser(c *gin.Context) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(c.Request.Context()).First(&user, getUserID(c)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// handleGetProfile 返回当前用户资料。
//
// GET /api/users/profile
func (s *Server) handleGetProfile(c *gin.Context) {
	user, err := s.loadCurrentUser(c)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(user))
}

// handleUpdateProfile 更新当前用户资料。
//
// 邮箱被其他用户占用时返回 409。
//
// PUT /api/users/profile
func (s *Server) handleUpdateProfile(c *gin.Context) {
	user, err := s.loadCurrentUser(c)
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fullName"})
			return
		}
		updates["full_name"] = name
	}
	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		}
		var existing model.User
		err := s.db.WithContext(c.Request.Context()).
			Where("email = ?", email).First(&existing).Error
		if err == nil && existing.ID != user.ID {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already in use"})
			return
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondDomainError(c, err)
			return
		}
		updates["email"] = email
	}
	if req.Password != nil {
		if len(*req.Password) < 6 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
			return
		}
		updates["password"] = string(hash)
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(c.Request.Context()).
			Model(user).Updates(updates).Error; err != nil {
			s.logger.Error("update profile failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update profile failed"})
			return
		}
		if err := s.db.WithContext(c.Request.Context()).First(user, user.ID).Error; err != nil {
			s.respondDomainError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, toProfileResponse(user))
}

// handleUserEvents 返回与当前用户相关的活动。
//
// 组织者看到自己创建的活动，志愿者看到自己报名的活动。
//
// GET /api/users/events
func (s *Server) handleUserEvents(c *gin.Context) {
	userID := getUserID(c)

	var events []model.Event
	query := s.db.WithContext(c.Request.Context())
	if getUserRole(c) == model.RoleOrganizer {
		query = query.Where("organizer_id = ?", userID)
	} else {
		query = query.
			Joins("JOIN event_registrations ON event_registrations.event_id = events.id").
			Where("event_registrations.user_id = ?", userID)
	}
	if err := query.Order("events.date ASC").Find(&events).Error; err != nil {
		s.logger.Error("list user events failed", slog.String("error", err.Error()))
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

	out := make([]eventResponse, 0, len(events))
	for i := range events {
		out = append(out, toEventResponse(&events[i], counts[events[i].ID]))
	}
	c.JSON(http.StatusOK, out)
}

// handleUserStats 返回按角色区分的聚合统计。
//
// GET /api/users/stats
func (s *Server) handleUserStats(c *gin.Context) {
	userID := getUserID(c)
	ctx := c.Request.Context()

	if getUserRole(c) == model.RoleOrganizer {
		var eventsCreated int64
		if err := s.db.WithContext(ctx).Model(&model.Event{}).
			Where("organizer_id = ?", userID).
			Count(&eventsCreated).Error; err != nil {
			s.respondDomainError(c, err)
			return
		}

		var totalVolunteers int64
		if err := s.db.WithContext(ctx).Model(&model.EventRegistration{}).
			Joins("JOIN events ON events.id = event_registrations.event_id").
			Where("events.organizer_id = ?", userID).
			Count(&totalVolunteers).Error; err != nil {
			s.respondDomainError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"eventsCreated":   eventsCreated,
			"totalVolunteers": totalVolunteers,
		})
		return
	}

	var eventsAttended int64
	if err := s.db.WithContext(ctx).Model(&model.EventRegistration{}).
		Where("user_id = ? AND status = ?", userID, model.RegistrationStatusAttended).
		Count(&eventsAttended).Error; err != nil {
		s.respondDomainError(c, err)
		return
	}

	var logs []model.WasteLog
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&logs).Error; err != nil {
		s.respondDomainError(c, err)
		return
	}
	totalWaste := decimal.Zero
	for i := range logs {
		totalWaste = totalWaste.Add(logs[i].Quantity)
	}

	c.JSON(http.StatusOK, gin.H{
		"eventsAttended":      eventsAttended,
		"totalWasteCollected": totalWaste,
		"wasteLogs":           len(logs),
	})
}
