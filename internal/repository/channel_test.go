package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shieldchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Channel{},
		&models.ChannelMembership{},
		&models.ChannelBan{},
		&models.ChannelIdentifierBan{},
		&models.UserIdentifier{},
		&models.ChannelMessage{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func createTestUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	user := &models.User{Username: name, Email: name + "@example.com", Password: "x"}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestChannelRepository_CreateChannel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner")

	t.Run("Create", func(t *testing.T) {
		channel, err := repo.CreateChannel(ctx, owner.ID, "Test")
		require.NoError(t, err)
		require.NotNil(t, channel)
		assert.Equal(t, "Test", channel.Name)
		assert.Equal(t, "test", channel.NameLower)
		assert.Equal(t, owner.ID, *channel.OwnerID)
		assert.Equal(t, 0, channel.UserCount)
	})

	t.Run("CaseInsensitiveLookup", func(t *testing.T) {
		channel, err := repo.GetChannelByName(ctx, "TEST")
		require.NoError(t, err)
		require.NotNil(t, channel)
		assert.Equal(t, "Test", channel.Name)
	})

	t.Run("OwnedChannelLimit", func(t *testing.T) {
		for i := 1; i < models.MaximumOwnedChannels; i++ {
			channel, err := repo.CreateChannel(ctx, owner.ID, fmt.Sprintf("chan-%d", i))
			require.NoError(t, err)
			require.NotNil(t, channel)
		}

		over, err := repo.CreateChannel(ctx, owner.ID, "one-too-many")
		require.NoError(t, err)
		assert.Nil(t, over, "creation past the owned-channel limit must report nil")
	})

	t.Run("AbsentChannelIsNil", func(t *testing.T) {
		channel, err := repo.GetChannelByName(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, channel)
	})
}

func TestChannelRepository_AddMembership(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	owner := createTestUser(t, db, "owner")
	joiner := createTestUser(t, db, "joiner")

	channel, err := repo.CreateChannel(ctx, owner.ID, "room")
	require.NoError(t, err)

	t.Run("JoinIncrementsUserCount", func(t *testing.T) {
		m, err := repo.AddMembership(ctx, joiner.ID, channel.ID)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, joiner.ID, m.UserID)
		assert.False(t, m.EditPermissions)

		updated, err := repo.GetChannel(ctx, channel.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, updated.UserCount)
	})

	t.Run("DuplicateJoinIsUniqueViolation", func(t *testing.T) {
		_, err := repo.AddMembership(ctx, joiner.ID, channel.ID)
		require.Error(t, err)
		assert.True(t, IsUniqueViolation(err))
	})

	t.Run("JoinedChannelLimit", func(t *testing.T) {
		hopper := createTestUser(t, db, "hopper")
		for i := 0; i < models.MaximumJoinedChannels; i++ {
			ch := &models.Channel{
				Name: fmt.Sprintf("filler-%d", i), NameLower: fmt.Sprintf("filler-%d", i),
				OwnerID: &owner.ID,
			}
			require.NoError(t, db.Create(ch).Error)
			m, err := repo.AddMembership(ctx, hopper.ID, ch.ID)
			require.NoError(t, err)
			require.NotNil(t, m)
		}

		m, err := repo.AddMembership(ctx, hopper.ID, channel.ID)
		require.NoError(t, err)
		assert.Nil(t, m, "joining past the limit must report nil")
	})

	t.Run("OfficialChannelsBypassLimit", func(t *testing.T) {
		hopper := createTestUser(t, db, "hopper2")
		for i := 0; i < models.MaximumJoinedChannels; i++ {
			ch := &models.Channel{
				Name: fmt.Sprintf("f2-%d", i), NameLower: fmt.Sprintf("f2-%d", i),
				OwnerID: &owner.ID,
			}
			require.NoError(t, db.Create(ch).Error)
			_, err := repo.AddMembership(ctx, hopper.ID, ch.ID)
			require.NoError(t, err)
		}

		official := &models.Channel{Name: "HQ", NameLower: "hq", Official: true}
		require.NoError(t, db.Create(official).Error)

		m, err := repo.AddMembership(ctx, hopper.ID, official.ID)
		require.NoError(t, err)
		assert.NotNil(t, m, "official channels never count against the join limit")
	})
}

func TestChannelRepository_RemoveMembership(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	t.Run("AbsentMembershipIsNil", func(t *testing.T) {
		res, err := repo.RemoveMembership(ctx, 999, 999)
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("LastMemberDestroysChannel", func(t *testing.T) {
		owner := createTestUser(t, db, "solo")
		channel, err := repo.CreateChannel(ctx, owner.ID, "lonely")
		require.NoError(t, err)
		_, err = repo.AddMembership(ctx, owner.ID, channel.ID)
		require.NoError(t, err)

		res, err := repo.RemoveMembership(ctx, owner.ID, channel.ID)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.True(t, res.ChannelDeleted)
		assert.Nil(t, res.NewOwnerID)

		gone, err := repo.GetChannel(ctx, channel.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("OfficialChannelSurvivesEmpty", func(t *testing.T) {
		u := createTestUser(t, db, "official-solo")
		official := &models.Channel{Name: "Lobby", NameLower: "lobby", Official: true}
		require.NoError(t, db.Create(official).Error)
		_, err := repo.AddMembership(ctx, u.ID, official.ID)
		require.NoError(t, err)

		res, err := repo.RemoveMembership(ctx, u.ID, official.ID)
		require.NoError(t, err)
		assert.False(t, res.ChannelDeleted)

		still, err := repo.GetChannel(ctx, official.ID)
		require.NoError(t, err)
		require.NotNil(t, still)
		assert.Equal(t, 0, still.UserCount)
	})

	t.Run("OwnershipTransferOrder", func(t *testing.T) {
		owner := createTestUser(t, db, "boss")
		modUser := createTestUser(t, db, "mod")
		kicker := createTestUser(t, db, "kicker")
		elder := createTestUser(t, db, "elder")

		channel, err := repo.CreateChannel(ctx, owner.ID, "transfer")
		require.NoError(t, err)

		_, err = repo.AddMembership(ctx, owner.ID, channel.ID)
		require.NoError(t, err)

		// elder joined first but holds no permissions.
		_, err = repo.AddMembership(ctx, elder.ID, channel.ID)
		require.NoError(t, err)
		_, err = repo.AddMembership(ctx, kicker.ID, channel.ID)
		require.NoError(t, err)
		_, err = repo.AddMembership(ctx, modUser.ID, channel.ID)
		require.NoError(t, err)

		ok, err := repo.UpdatePermissions(ctx, channel.ID, kicker.ID, models.ChannelPermissions{Kick: true})
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = repo.UpdatePermissions(ctx, channel.ID, modUser.ID, models.ChannelPermissions{EditPermissions: true})
		require.NoError(t, err)
		require.True(t, ok)

		res, err := repo.RemoveMembership(ctx, owner.ID, channel.ID)
		require.NoError(t, err)
		require.NotNil(t, res.NewOwnerID)
		assert.Equal(t, modUser.ID, *res.NewOwnerID, "editPermissions outranks kick and join date")

		updated, err := repo.GetChannel(ctx, channel.ID)
		require.NoError(t, err)
		assert.Equal(t, modUser.ID, *updated.OwnerID)

		// Next departure: kick outranks the earlier join date.
		res, err = repo.RemoveMembership(ctx, modUser.ID, channel.ID)
		require.NoError(t, err)
		require.NotNil(t, res.NewOwnerID)
		assert.Equal(t, kicker.ID, *res.NewOwnerID)

		// Finally, the earliest joiner wins among equals.
		res, err = repo.RemoveMembership(ctx, kicker.ID, channel.ID)
		require.NoError(t, err)
		require.NotNil(t, res.NewOwnerID)
		assert.Equal(t, elder.ID, *res.NewOwnerID)
	})

	t.Run("NonOwnerDepartureKeepsOwner", func(t *testing.T) {
		owner := createTestUser(t, db, "keeper")
		member := createTestUser(t, db, "drifter")

		channel, err := repo.CreateChannel(ctx, owner.ID, "stable")
		require.NoError(t, err)
		_, err = repo.AddMembership(ctx, owner.ID, channel.ID)
		require.NoError(t, err)
		_, err = repo.AddMembership(ctx, member.ID, channel.ID)
		require.NoError(t, err)

		res, err := repo.RemoveMembership(ctx, member.ID, channel.ID)
		require.NoError(t, err)
		assert.Nil(t, res.NewOwnerID)
		assert.False(t, res.ChannelDeleted)
	})
}

func TestChannelRepository_InsertMessage(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	owner := createTestUser(t, db, "talker")
	channel, err := repo.CreateChannel(ctx, owner.ID, "chatty")
	require.NoError(t, err)
	_, err = repo.AddMembership(ctx, owner.ID, channel.ID)
	require.NoError(t, err)

	data, err := models.EncodeMessageData(models.TextMessageData{Text: "hello"})
	require.NoError(t, err)

	t.Run("MemberInsert", func(t *testing.T) {
		msg, err := repo.InsertMessage(ctx, owner.ID, channel.ID, 1001, models.MessageTypeText, data)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, int64(1001), msg.ID)
	})

	t.Run("NonMemberInsertAffectsZeroRows", func(t *testing.T) {
		stranger := createTestUser(t, db, "stranger")
		msg, err := repo.InsertMessage(ctx, stranger.ID, channel.ID, 1002, models.MessageTypeText, data)
		require.NoError(t, err)
		assert.Nil(t, msg, "the membership check and insert are one statement")

		var count int64
		require.NoError(t, db.Model(&models.ChannelMessage{}).Where("id = ?", 1002).Count(&count).Error)
		assert.Zero(t, count, "no orphaned message row")
	})
}

func TestChannelRepository_MessageHistory(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	owner := createTestUser(t, db, "historian")
	channel, err := repo.CreateChannel(ctx, owner.ID, "annals")
	require.NoError(t, err)
	_, err = repo.AddMembership(ctx, owner.ID, channel.ID)
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &models.ChannelMessage{
			ID: int64(2000 + i), UserID: owner.ID, ChannelID: channel.ID,
			Sent: base.Add(time.Duration(i) * time.Minute),
			Type: models.MessageTypeText, Data: []byte(`{"text":"m"}`),
		}
		require.NoError(t, db.Create(msg).Error)
	}

	t.Run("LatestPageAscending", func(t *testing.T) {
		msgs, err := repo.GetMessages(ctx, channel.ID, 3, time.Time{})
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, int64(2002), msgs[0].ID)
		assert.Equal(t, int64(2004), msgs[2].ID)
	})

	t.Run("BeforeCursor", func(t *testing.T) {
		msgs, err := repo.GetMessages(ctx, channel.ID, 10, base.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, int64(2000), msgs[0].ID)
		assert.Equal(t, int64(2001), msgs[1].ID)
	})

	t.Run("DeleteMessage", func(t *testing.T) {
		deleted, err := repo.DeleteMessage(ctx, channel.ID, 2000)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.DeleteMessage(ctx, channel.ID, 2000)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestChannelRepository_Bans(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	owner := createTestUser(t, db, "warden")
	channel, err := repo.CreateChannel(ctx, owner.ID, "jail")
	require.NoError(t, err)

	t.Run("ManualBan", func(t *testing.T) {
		target := createTestUser(t, db, "offender")
		ban, err := repo.BanUser(ctx, BanUserParams{
			ChannelID: channel.ID, TargetID: target.ID,
			ModeratorID: &owner.ID, Reason: "spam",
		})
		require.NoError(t, err)
		assert.Equal(t, "spam", ban.Reason)

		banned, err := repo.IsUserBanned(ctx, channel.ID, target.ID)
		require.NoError(t, err)
		assert.True(t, banned)
	})

	t.Run("AutomatedReasonInference", func(t *testing.T) {
		u2 := createTestUser(t, db, "alt2")
		u3 := createTestUser(t, db, "alt3")
		smurf := createTestUser(t, db, "smurf")

		// u2 has two prior "spam" bans in different channels; only
		// the in-channel ones count, so seed them in this channel via
		// separate fake channel rows for the off-channel noise.
		other := &models.Channel{Name: "elsewhere", NameLower: "elsewhere"}
		require.NoError(t, db.Create(other).Error)

		require.NoError(t, db.Create(&models.ChannelBan{ChannelID: channel.ID, UserID: u2.ID, Reason: "spam", Automated: true, CreatedAt: time.Now().Add(-2 * time.Hour)}).Error)
		require.NoError(t, db.Create(&models.ChannelBan{ChannelID: other.ID, UserID: u2.ID, Reason: "flooding", CreatedAt: time.Now().Add(-90 * time.Minute)}).Error)
		require.NoError(t, db.Create(&models.ChannelBan{ChannelID: channel.ID, UserID: u3.ID, Reason: "abuse", CreatedAt: time.Now().Add(-time.Hour)}).Error)

		// One "spam" and one "abuse" in-channel: add a second spam
		// row under a fresh user so spam wins the frequency count.
		u4 := createTestUser(t, db, "alt4")
		require.NoError(t, db.Create(&models.ChannelBan{ChannelID: channel.ID, UserID: u4.ID, Reason: "spam", CreatedAt: time.Now().Add(-30 * time.Minute)}).Error)

		ban, err := repo.BanUser(ctx, BanUserParams{
			ChannelID: channel.ID, TargetID: smurf.ID,
			Automated: true, ConnectedUsers: []uint{u2.ID, u3.ID, u4.ID},
		})
		require.NoError(t, err)
		assert.Equal(t, "spam", ban.Reason)
		assert.True(t, ban.Automated)
		assert.Nil(t, ban.BannedBy)
	})

	t.Run("RebanIsIdempotent", func(t *testing.T) {
		target := createTestUser(t, db, "repeat")
		_, err := repo.BanUser(ctx, BanUserParams{ChannelID: channel.ID, TargetID: target.ID, ModeratorID: &owner.ID, Reason: "first"})
		require.NoError(t, err)
		_, err = repo.BanUser(ctx, BanUserParams{ChannelID: channel.ID, TargetID: target.ID, ModeratorID: &owner.ID, Reason: "second"})
		require.NoError(t, err)

		var ban models.ChannelBan
		require.NoError(t, db.Where("channel_id = ? AND user_id = ?", channel.ID, target.ID).First(&ban).Error)
		assert.Equal(t, "first", ban.Reason)
	})
}

func TestChannelRepository_IdentifierBans(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	userRepo := NewUserRepository(db)
	ctx := context.Background()

	owner := createTestUser(t, db, "hunter")
	channel, err := repo.CreateChannel(ctx, owner.ID, "no-smurfs")
	require.NoError(t, err)

	banned := createTestUser(t, db, "banned-main")
	smurf := createTestUser(t, db, "smurf-alt")

	// The banned account and its alt share two hardware identifiers;
	// only the browserprint differs.
	for _, ident := range []models.UserIdentifier{
		{UserID: banned.ID, IdentifierType: models.IdentifierBrowserprint, IdentifierHash: "bp-main"},
		{UserID: banned.ID, IdentifierType: models.IdentifierMachineGUID, IdentifierHash: "guid-shared"},
		{UserID: banned.ID, IdentifierType: models.IdentifierMacAddress, IdentifierHash: "mac-shared"},
		{UserID: smurf.ID, IdentifierType: models.IdentifierBrowserprint, IdentifierHash: "bp-alt"},
		{UserID: smurf.ID, IdentifierType: models.IdentifierMachineGUID, IdentifierHash: "guid-shared"},
		{UserID: smurf.ID, IdentifierType: models.IdentifierMacAddress, IdentifierHash: "mac-shared"},
	} {
		i := ident
		require.NoError(t, userRepo.UpsertIdentifier(ctx, &i))
	}

	require.NoError(t, repo.BanAllIdentifiers(ctx, channel.ID, banned.ID, true))

	t.Run("MatchesExcludingBrowserprint", func(t *testing.T) {
		count, err := repo.CountMatchingBannedIdentifiers(ctx, channel.ID, smurf.ID, true)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.GreaterOrEqual(t, count, models.MinIdentifierMatches)
	})

	t.Run("BrowserprintNeverCopied", func(t *testing.T) {
		var count int64
		require.NoError(t, db.Model(&models.ChannelIdentifierBan{}).
			Where("channel_id = ? AND identifier_type = ?", channel.ID, models.IdentifierBrowserprint).
			Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("CopyIsIdempotent", func(t *testing.T) {
		require.NoError(t, repo.BanAllIdentifiers(ctx, channel.ID, banned.ID, true))

		var count int64
		require.NoError(t, db.Model(&models.ChannelIdentifierBan{}).
			Where("channel_id = ?", channel.ID).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})
}

func TestChannelRepository_Search(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	for _, c := range []models.Channel{
		{Name: "Azeroth", NameLower: "azeroth", UserCount: 5},
		{Name: "Aiur", NameLower: "aiur", UserCount: 12},
		{Name: "Char", NameLower: "char", UserCount: 12},
		{Name: "Korhal", NameLower: "korhal", UserCount: 1},
	} {
		ch := c
		require.NoError(t, db.Create(&ch).Error)
	}

	t.Run("OrderedByUserCountThenName", func(t *testing.T) {
		channels, err := repo.SearchChannels(ctx, "", 10, 0)
		require.NoError(t, err)
		require.Len(t, channels, 4)
		assert.Equal(t, "Aiur", channels[0].Name)
		assert.Equal(t, "Char", channels[1].Name)
		assert.Equal(t, "Azeroth", channels[2].Name)
		assert.Equal(t, "Korhal", channels[3].Name)
	})

	t.Run("SubstringMatch", func(t *testing.T) {
		channels, err := repo.SearchChannels(ctx, "HA", 10, 0)
		require.NoError(t, err)
		require.Len(t, channels, 2)
		assert.Equal(t, "Char", channels[0].Name)
		assert.Equal(t, "Korhal", channels[1].Name)
	})
}

func TestChannelRepository_UpdateChannel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := context.Background()

	owner := createTestUser(t, db, "editor")
	channel, err := repo.CreateChannel(ctx, owner.ID, "editable")
	require.NoError(t, err)

	t.Run("EmptyPatchIsError", func(t *testing.T) {
		_, err := repo.UpdateChannel(ctx, channel.ID, models.ChannelPatch{})
		assert.Error(t, err)
	})

	t.Run("PatchApplies", func(t *testing.T) {
		topic := "gl hf"
		private := true
		updated, err := repo.UpdateChannel(ctx, channel.ID, models.ChannelPatch{Topic: &topic, Private: &private})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, "gl hf", updated.Topic)
		assert.True(t, updated.Private)
	})
}
