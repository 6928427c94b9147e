package models

import "time"

// ChannelPermissions are the five independent per-channel moderation
// capabilities a membership can hold.
type ChannelPermissions struct {
	Kick            bool `json:"kick"`
	Ban             bool `json:"ban"`
	ChangeTopic     bool `json:"change_topic"`
	TogglePrivate   bool `json:"toggle_private"`
	EditPermissions bool `json:"edit_permissions"`
}

// ChannelPreferences are per-channel user preferences stored on the
// membership row.
type ChannelPreferences struct {
	HideBanner bool `json:"hide_banner"`
}

// ChannelMembership binds a user to a channel. Created on join, deleted
// on leave/kick/ban. CreatedAt doubles as the join date used for
// ownership-transfer tie-breaking.
type ChannelMembership struct {
	ChannelID       uint      `gorm:"primaryKey;autoIncrement:false" json:"channel_id"`
	UserID          uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	Kick            bool      `gorm:"not null;default:false" json:"kick"`
	Ban             bool      `gorm:"not null;default:false" json:"ban"`
	ChangeTopic     bool      `gorm:"not null;default:false" json:"change_topic"`
	TogglePrivate   bool      `gorm:"not null;default:false" json:"toggle_private"`
	EditPermissions bool      `gorm:"not null;default:false" json:"edit_permissions"`
	HideBanner      bool      `gorm:"not null;default:false" json:"hide_banner"`
	CreatedAt       time.Time `json:"join_date"`
	UpdatedAt       time.Time `json:"-"`

	Channel *Channel `gorm:"foreignKey:ChannelID" json:"channel,omitempty"`
	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName specifies the table name for GORM.
func (ChannelMembership) TableName() string {
	return "channel_memberships"
}

// Permissions extracts the permission flags from the membership row.
func (m *ChannelMembership) Permissions() ChannelPermissions {
	return ChannelPermissions{
		Kick:            m.Kick,
		Ban:             m.Ban,
		ChangeTopic:     m.ChangeTopic,
		TogglePrivate:   m.TogglePrivate,
		EditPermissions: m.EditPermissions,
	}
}

// SetPermissions writes the permission flags onto the membership row.
func (m *ChannelMembership) SetPermissions(p ChannelPermissions) {
	m.Kick = p.Kick
	m.Ban = p.Ban
	m.ChangeTopic = p.ChangeTopic
	m.TogglePrivate = p.TogglePrivate
	m.EditPermissions = p.EditPermissions
}

// Preferences extracts the preference flags from the membership row.
func (m *ChannelMembership) Preferences() ChannelPreferences {
	return ChannelPreferences{HideBanner: m.HideBanner}
}
