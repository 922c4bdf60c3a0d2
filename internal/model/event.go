package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// 报名状态。
const (
	RegistrationStatusRegistered = "registered" // 已报名
	RegistrationStatusAttended   = "attended"   // 已到场（由未来的签到流程写入）
)

// DefaultMaxParticipants 活动默认人数上限。
const DefaultMaxParticipants = 100

// StringList 以 JSON 数组形式落库的字符串列表。
//
// MySQL 下存为 json 列，SQLite 下存为 text，读写均走 encoding/json，
// 保证 what_to_bring 等结构化字段能原样往返。
type StringList []string

// Value 实现 driver.Valuer。
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner。
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported string list type %T", value)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(data, l)
}

// Event 表示一次清洁活动。
//
// 活动由唯一的组织者创建并维护，删除是软删除（is_active=false），
// 报名关系通过 EventRegistration 独立建模，不在这里保存参与者 ID 列表。
type Event struct {
	ID        uint      `gorm:"primaryKey"` // 活动 ID
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	Title       string   `gorm:"type:varchar(255);not null"` // 标题
	Description string   `gorm:"type:text;not null"`         // 描述
	Location    string   `gorm:"type:varchar(255);not null"` // 地点（自由文本）
	Latitude    *float64 // 纬度（地理编码结果，可能缺失）
	Longitude   *float64 // 经度
	Date        string   `gorm:"type:varchar(10);not null"`  // 日期 YYYY-MM-DD
	TimeStart   string   `gorm:"type:varchar(5);not null"`   // 开始时间 HH:MM
	TimeEnd     string   `gorm:"type:varchar(5);not null"`   // 结束时间 HH:MM
	City        string   `gorm:"type:varchar(100);not null"` // 城市
	State       string   `gorm:"type:varchar(100);not null"` // 省/州

	OrganizerID uint `gorm:"not null;index"`       // 组织者 ID（创建后不可变）
	Organizer   User `gorm:"foreignKey:OrganizerID"` // 组织者

	WhatToBring     StringList `gorm:"type:json;not null"` // 需自带物品
	SafetyProtocols StringList `gorm:"type:json;not null"` // 安全须知
	Tags            StringList `gorm:"type:json"`          // 标签（可选）

	MaxParticipants int  `gorm:"not null"`     // 人数上限（>= 0，接纳时校验，调低不追溯）
	IsActive        bool `gorm:"default:true"` // 是否有效（软删除标记）

	Registrations []EventRegistration `gorm:"foreignKey:EventID"`
	WasteLogs     []WasteLog          `gorm:"foreignKey:EventID"`
}

// FullAddress 拼出用于地理编码的完整地址。
func (e *Event) FullAddress() string {
	return fmt.Sprintf("%s, %s, %s", e.Location, e.City, e.State)
}

// EventRegistration 是用户与活动之间的报名记录。
//
// (event_id, user_id) 上的唯一索引是并发重复报名的最终防线，
// 报名记录的存在与否是“是否为活动参与者”的唯一权威。
type EventRegistration struct {
	ID        uint      `gorm:"primaryKey"` // 报名 ID
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	EventID uint   `gorm:"not null;uniqueIndex:idx_event_user"` // 活动 ID
	UserID  uint   `gorm:"not null;uniqueIndex:idx_event_user"` // 用户 ID
	Status  string `gorm:"type:varchar(20);not null;default:registered"` // registered / attended

	Event Event `gorm:"foreignKey:EventID"`
	User  User  `gorm:"foreignKey:UserID"`
}
