package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WasteLog 表示一条垃圾收集记录。
//
// 只能由在该活动上有有效报名的志愿者创建，且只有本人可以修改或删除。
// Quantity 使用 decimal 精确存储与累加，避免大量小数条目求和时的浮点漂移。
type WasteLog struct {
	ID        uint      `gorm:"primaryKey"` // 记录 ID
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	EventID   uint            `gorm:"not null;index"`             // 所属活动
	UserID    uint            `gorm:"not null;index"`             // 记录人（报名志愿者）
	WasteType string          `gorm:"type:varchar(50);not null"`  // 垃圾类别（自由文本）
	Quantity  decimal.Decimal `gorm:"type:decimal(10,2);not null"` // 数量（非负）
	Unit      string          `gorm:"type:varchar(20);not null"`  // 单位
	Notes     *string         `gorm:"type:text"`                  // 备注（可空）

	Event Event `gorm:"foreignKey:EventID"`
	User  User  `gorm:"foreignKey:UserID"`
}
