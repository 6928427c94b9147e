package database

import "shieldchat/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.UserIdentifier{},
		&models.Channel{},
		&models.ChannelMembership{},
		&models.ChannelMessage{},
		&models.ChannelBan{},
		&models.ChannelIdentifierBan{},
	}
}
