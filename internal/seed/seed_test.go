package seed

import (
	"testing"

	"shieldchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSeedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Channel{}))
	return db
}

func TestOfficialChannels(t *testing.T) {
	db := setupSeedDB(t)

	require.NoError(t, OfficialChannels(db))

	var sb models.Channel
	require.NoError(t, db.Where("name_lower = ?", "shieldbattery").First(&sb).Error)
	assert.Equal(t, models.ShieldBatteryChannelName, sb.Name)
	assert.True(t, sb.Official)
	assert.Nil(t, sb.OwnerID)
	assert.NotEmpty(t, sb.Topic)

	var count int64
	require.NoError(t, db.Model(&models.Channel{}).Where("official = ?", true).Count(&count).Error)
	assert.GreaterOrEqual(t, count, int64(3))
}

func TestOfficialChannels_Idempotent(t *testing.T) {
	db := setupSeedDB(t)

	require.NoError(t, OfficialChannels(db))
	require.NoError(t, OfficialChannels(db))

	var count int64
	require.NoError(t, db.Model(&models.Channel{}).Where("name_lower = ?", "shieldbattery").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOfficialChannels_PreservesExistingState(t *testing.T) {
	db := setupSeedDB(t)
	require.NoError(t, OfficialChannels(db))

	require.NoError(t, db.Model(&models.Channel{}).
		Where("name_lower = ?", "shieldbattery").
		Update("user_count", 42).Error)

	require.NoError(t, OfficialChannels(db))

	var sb models.Channel
	require.NoError(t, db.Where("name_lower = ?", "shieldbattery").First(&sb).Error)
	assert.Equal(t, 42, sb.UserCount)
}

func TestUsers(t *testing.T) {
	db := setupSeedDB(t)

	users, err := Users(db, 5, "hunter2-but-longer")
	require.NoError(t, err)
	assert.Len(t, users, 5)

	seen := map[string]bool{}
	for _, u := range users {
		assert.NotEmpty(t, u.Username)
		assert.LessOrEqual(t, len(u.Username), 32)
		assert.False(t, seen[u.Username], "duplicate username %s", u.Username)
		seen[u.Username] = true
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("hunter2-but-longer")))
	}
}
