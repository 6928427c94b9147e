package models

import "time"

// IdentifierType classifies a hashed client identifier reported at
// login. Browserprint is the weakest signal and is excluded from
// ban-evasion matching by default.
type IdentifierType int

const (
	IdentifierBrowserprint IdentifierType = iota
	IdentifierClientUUID
	IdentifierMachineGUID
	IdentifierInstallPath
	IdentifierMacAddress
)

// UserIdentifier is a hashed device/browser identifier currently
// associated with a user account. Hashes are stored base64-encoded.
type UserIdentifier struct {
	UserID         uint           `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	IdentifierType IdentifierType `gorm:"primaryKey;autoIncrement:false" json:"identifier_type"`
	IdentifierHash string         `gorm:"primaryKey;size:88" json:"identifier_hash"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (UserIdentifier) TableName() string {
	return "user_identifiers"
}

// ChannelIdentifierBan bans an identifier hash from a channel rather
// than a user id, catching ban evasion via alternate accounts.
type ChannelIdentifierBan struct {
	ChannelID      uint           `gorm:"primaryKey;autoIncrement:false" json:"channel_id"`
	IdentifierType IdentifierType `gorm:"primaryKey;autoIncrement:false" json:"identifier_type"`
	IdentifierHash string         `gorm:"primaryKey;size:88" json:"identifier_hash"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (ChannelIdentifierBan) TableName() string {
	return "channel_identifier_bans"
}

// MinIdentifierMatches is how many banned identifiers a joining user
// must share with a channel's identifier-ban table before the join is
// treated as ban evasion.
const MinIdentifierMatches = 2
