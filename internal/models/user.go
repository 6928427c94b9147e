package models

import "time"

// User is the minimal identity row the chat service needs. Account
// management (signup, sessions, password reset) lives in a separate
// service; this table is shared.
type User struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Username             string    `gorm:"size:32;not null;uniqueIndex" json:"username"`
	Email                string    `gorm:"size:120;not null" json:"-"`
	Password             string    `gorm:"size:120;not null" json:"-"`
	IsAdmin              bool      `gorm:"not null;default:false" json:"-"`
	ModerateChatChannels bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}
