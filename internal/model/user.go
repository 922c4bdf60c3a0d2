package model

import "time"

// 用户角色。
const (
	RoleOrganizer = "organizer" // 活动组织者
	RoleVolunteer = "volunteer" // 志愿者
)

// User 表示系统用户。
type User struct {
	ID                  uint       `gorm:"primaryKey"`                    // 用户 ID
	Email               string     `gorm:"type:varchar(191);uniqueIndex"` // 邮箱（唯一）
	Password            string     `gorm:"not null"`                      // bcrypt 哈希
	FullName            string     `gorm:"type:varchar(191);not null"`    // 显示名称
	Role                string     `gorm:"type:varchar(16);not null"`     // 角色: organizer / volunteer
	IsActive            bool       `gorm:"default:true"`                  // 账号是否可用
	IsVerified          bool       `gorm:"default:false"`                 // 邮箱是否已验证
	VerifyCode          string     `gorm:"type:varchar(16)"`              // 邮箱验证码
	VerifyCodeExpiresAt *time.Time // 验证码过期时间
	VerifyCodeSentAt    *time.Time // 验证码发送时间
	CreatedAt           time.Time  // 创建时间
	UpdatedAt           time.Time  // 更新时间

	OrganizedEvents []Event             `gorm:"foreignKey:OrganizerID"`
	Registrations   []EventRegistration `gorm:"foreignKey:UserID"`
}
