package api

import (
	"context"
	"errors"

	"cleanwave/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedDemoData 初始化本地演示数据：一个组织者账号和一场示例活动。
//
// 只在 local 环境调用，重复执行是幂等的。
func (s *Server) SeedDemoData(ctx context.Context) error {
	const demoEmail = "organizer@cleanwave.dev"

	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", demoEmail).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte("cleanwave-demo"), bcrypt.DefaultCost)
		if hashErr != nil {
			return hashErr
		}
		user = model.User{
			Email:      demoEmail,
			Password:   string(hash),
			FullName:   "Demo Organizer",
			Role:       model.RoleOrganizer,
			IsActive:   true,
			IsVerified: true,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Event{}).
		Where("organizer_id = ?", user.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	event := model.Event{
		Title:           "Baker Beach Cleanup",
		Description:     "Monthly shoreline cleanup. Bags and grabbers provided at the check-in tent.",
		Location:        "Baker Beach",
		Date:            "2026-09-12",
		TimeStart:       "09:00",
		TimeEnd:         "12:00",
		City:            "San Francisco",
		State:           "CA",
		OrganizerID:     user.ID,
		WhatToBring:     model.StringList{"gloves", "water bottle", "sunscreen"},
		SafetyProtocols: model.StringList{"stay clear of the tide line", "do not pick up sharps"},
		Tags:            model.StringList{"beach", "monthly"},
		MaxParticipants: model.DefaultMaxParticipants,
		IsActive:        true,
	}
	return s.db.WithContext(ctx).Create(&event).Error
}
