package models

import "time"

// ChannelBan blocks future joins by a user id. It persists independent
// of membership state. A nil BannedBy means the ban was placed by the
// system (smurf detection) rather than a moderator.
type ChannelBan struct {
	ChannelID uint      `gorm:"primaryKey;autoIncrement:false" json:"channel_id"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	BannedBy  *uint     `gorm:"index" json:"banned_by"`
	Reason    string    `gorm:"type:text;default:''" json:"reason"`
	Automated bool      `gorm:"not null;default:false" json:"automated"`
	CreatedAt time.Time `json:"ban_time"`

	User         *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
	BannedByUser *User `gorm:"foreignKey:BannedBy" json:"banned_by_user,omitempty"`
}

// TableName specifies the table name for GORM.
func (ChannelBan) TableName() string {
	return "channel_bans"
}
