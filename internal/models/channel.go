package models

import "time"

// Limits enforced atomically by the repository layer.
const (
	// MaximumJoinedChannels caps non-official memberships per user.
	MaximumJoinedChannels = 64
	// MaximumOwnedChannels caps channels owned per user.
	MaximumOwnedChannels = 10
	// MaxChannelNameLength is the longest allowed channel name.
	MaxChannelNameLength = 64
)

// ShieldBatteryChannelName is the reserved home channel every user is
// auto-joined to at session start. Leaving or moderating it is gated by
// the "can_leave_shield_battery" / "can_moderate_shield_battery" flags.
const ShieldBatteryChannelName = "ShieldBattery"

// Channel is a named, persistent chat room.
//
// Invariant: a non-official channel with UserCount > 0 always has a
// non-nil OwnerID, and the row is deleted the instant UserCount reaches
// zero. Official channels may be ownerless and are never auto-deleted.
type Channel struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:64;not null" json:"name"`
	NameLower   string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	Private     bool      `gorm:"not null;default:false" json:"private"`
	Official    bool      `gorm:"not null;default:false" json:"official"`
	OwnerID     *uint     `gorm:"index" json:"owner_id"`
	Topic       string    `gorm:"size:256;default:''" json:"topic"`
	Description string    `gorm:"type:text;default:''" json:"description"`
	BannerPath  *string   `gorm:"size:260" json:"banner_path"`
	BadgePath   *string   `gorm:"size:260" json:"badge_path"`
	UserCount   int       `gorm:"not null;default:0" json:"user_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Owner *User `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
}

// TableName specifies the table name for GORM.
func (Channel) TableName() string {
	return "channels"
}

// ChannelPatch carries the updatable channel columns for EditChannel.
// Nil fields are left untouched.
type ChannelPatch struct {
	Topic       *string `json:"topic,omitempty"`
	Description *string `json:"description,omitempty"`
	Private     *bool   `json:"private,omitempty"`
	BannerPath  *string `json:"banner_path,omitempty"`
	BadgePath   *string `json:"badge_path,omitempty"`
}

// Empty reports whether the patch updates nothing.
func (p ChannelPatch) Empty() bool {
	return p.Topic == nil && p.Description == nil && p.Private == nil &&
		p.BannerPath == nil && p.BadgePath == nil
}
