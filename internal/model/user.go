package model

import "time"

// ProviderPassword 表示邮箱密码方式注册的用户。
const ProviderPassword = "password"

// User 对应 users 表。
type User struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Email         string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password      string     `gorm:"type:varchar(255);not null" json:"-"`
	DisplayName   string     `gorm:"type:varchar(255)" json:"display_name"`
	Provider      string     `gorm:"type:varchar(32);not null;default:password" json:"provider"`
	EmailVerified bool       `gorm:"not null;default:false" json:"email_verified"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login,omitempty"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}
