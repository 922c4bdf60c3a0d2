package api

import (
	"context"
	"errors"

	"cleanwave/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dbRegistrationStore 是 RegistrationStore 的 gorm 实现。
//
// Join 在单个事务里完成 存在性 -> 有效性 -> 重复 -> 容量 的全部检查，
// 检查顺序即错误优先级。MySQL 下对活动行加排他锁把并发报名串行化；
// SQLite 本身单写者，跳过锁子句。(event_id, user_id) 唯一索引兜底，
// 任何绕过锁的并发重复插入都会回滚为 ErrConflict。
type dbRegistrationStore struct {
	db *gorm.DB
}

func (s dbRegistrationStore) Join(ctx context.Context, eventID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eventQuery := tx
		if tx.Dialector.Name() != "sqlite" {
			eventQuery = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var event model.Event
		if err := eventQuery.First(&event, eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return err
		}
		if !event.IsActive {
			return model.ErrEventInactive
		}

		var existing int64
		if err := tx.Model(&model.EventRegistration{}).
			Where("event_id = ? AND user_id = ?", eventID, userID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return model.ErrConflict
		}

		var registered int64
		if err := tx.Model(&model.EventRegistration{}).
			Where("event_id = ?", eventID).
			Count(&registered).Error; err != nil {
			return err
		}
		if registered >= int64(event.MaxParticipants) {
			return model.ErrCapacityExceeded
		}

		reg := model.EventRegistration{
			EventID: eventID,
			UserID:  userID,
			Status:  model.RegistrationStatusRegistered,
		}
		if err := tx.Create(&reg).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return model.ErrConflict
			}
			return err
		}
		return nil
	})
}

func (s dbRegistrationStore) Leave(ctx context.Context, eventID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event model.Event
		if err := tx.First(&event, eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return err
		}

		res := tx.Where("event_id = ? AND user_id = ?", eventID, userID).
			Delete(&model.EventRegistration{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 报名记录不存在时与活动不存在同等对待。
			return model.ErrNotFound
		}
		return nil
	})
}

func (s dbRegistrationStore) CountForEvent(ctx context.Context, eventID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.EventRegistration{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count, err
}

func (s dbRegistrationStore) HasRegistration(ctx context.Context, eventID, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.EventRegistration{}).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Count(&count).Error
	return count > 0, err
}
