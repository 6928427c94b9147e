package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"shieldchat/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemovalResult describes the outcome of removing a membership.
type RemovalResult struct {
	// ChannelDeleted is true when the departing user was the last
	// member of a non-official channel.
	ChannelDeleted bool `json:"channel_deleted"`
	// NewOwnerID is set when ownership was transferred to another
	// member.
	NewOwnerID *uint `json:"new_owner_id,omitempty"`
}

// BanUserParams are the inputs for ChannelRepository.BanUser.
type BanUserParams struct {
	ChannelID uint
	TargetID  uint
	// ModeratorID is nil for automated (system) bans.
	ModeratorID *uint
	Reason      string
	Automated   bool
	// ConnectedUsers are suspected alt accounts. For automated bans
	// with an empty Reason, the reason is inferred as the most
	// frequent prior ban reason among these users in the channel.
	ConnectedUsers []uint
}

// ChannelRepository defines the interface for channel data operations.
// Methods that must participate in a caller-opened transaction are
// reached through WithTx. Expected absence is reported as a nil result,
// not an error; errors indicate genuine failures.
type ChannelRepository interface {
	WithTx(tx *gorm.DB) ChannelRepository

	// CreateChannel atomically checks the creator's owned-channel
	// count inside the INSERT; a nil channel means the limit was hit.
	CreateChannel(ctx context.Context, ownerID uint, name string) (*models.Channel, error)
	GetChannel(ctx context.Context, id uint) (*models.Channel, error)
	GetChannelByName(ctx context.Context, name string) (*models.Channel, error)
	GetChannelsByID(ctx context.Context, ids []uint) ([]*models.Channel, error)
	// GetChannelsByName maps lowercased names to channels; missing
	// names are absent from the map.
	GetChannelsByName(ctx context.Context, names []string) (map[string]*models.Channel, error)
	SearchChannels(ctx context.Context, query string, limit, offset int) ([]*models.Channel, error)
	// UpdateChannel errors when the patch contains no updatable
	// columns.
	UpdateChannel(ctx context.Context, id uint, patch models.ChannelPatch) (*models.Channel, error)

	// AddMembership atomically checks the joined-channel limit
	// (non-official channels only) inside the INSERT; a nil
	// membership means the limit was hit.
	AddMembership(ctx context.Context, userID, channelID uint) (*models.ChannelMembership, error)
	GetMembership(ctx context.Context, channelID, userID uint) (*models.ChannelMembership, error)
	GetMemberships(ctx context.Context, channelID uint) ([]*models.ChannelMembership, error)
	GetUserChannels(ctx context.Context, userID uint) ([]*models.ChannelMembership, error)
	// RemoveMembership deletes the membership, destroys an emptied
	// non-official channel, and otherwise transfers ownership when
	// the departing user owned the channel. A nil result means the
	// membership did not exist.
	RemoveMembership(ctx context.Context, userID, channelID uint) (*RemovalResult, error)
	// UpdatePermissions returns false when the membership is absent.
	UpdatePermissions(ctx context.Context, channelID, userID uint, perms models.ChannelPermissions) (bool, error)
	UpdatePreferences(ctx context.Context, channelID, userID uint, prefs models.ChannelPreferences) (bool, error)

	// InsertMessage conditions the INSERT on the membership existing
	// at the moment of the write; a nil message means the sender was
	// no longer a member.
	InsertMessage(ctx context.Context, userID, channelID uint, msgID int64, msgType models.MessageType, data json.RawMessage) (*models.ChannelMessage, error)
	GetMessages(ctx context.Context, channelID uint, limit int, before time.Time) ([]*models.ChannelMessage, error)
	// DeleteMessage returns false when no such message exists.
	DeleteMessage(ctx context.Context, channelID uint, messageID int64) (bool, error)

	BanUser(ctx context.Context, params BanUserParams) (*models.ChannelBan, error)
	IsUserBanned(ctx context.Context, channelID, userID uint) (bool, error)
	// BanAllIdentifiers copies the target's current identifier hashes
	// into the channel's identifier-ban table, idempotently.
	BanAllIdentifiers(ctx context.Context, channelID, userID uint, excludeBrowserprint bool) error
	CountMatchingBannedIdentifiers(ctx context.Context, channelID, userID uint, excludeBrowserprint bool) (int, error)
}

type channelRepository struct {
	db *gorm.DB
}

// NewChannelRepository creates a new channel repository.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

func (r *channelRepository) WithTx(tx *gorm.DB) ChannelRepository {
	return &channelRepository{db: tx}
}

func (r *channelRepository) CreateChannel(ctx context.Context, ownerID uint, name string) (*models.Channel, error) {
	now := time.Now().UTC()
	nameLower := strings.ToLower(name)

	// The owned-channel count check is part of the INSERT's WHERE
	// clause so a concurrent create cannot slip past the limit.
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO channels (name, name_lower, private, official, owner_id, topic, description, user_count, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, '', '', 0, ?, ?
		WHERE (SELECT COUNT(*) FROM channels WHERE owner_id = ?) < ?`,
		name, nameLower, false, false, ownerID, now, now,
		ownerID, models.MaximumOwnedChannels,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	return r.GetChannelByName(ctx, name)
}

func (r *channelRepository) GetChannel(ctx context.Context, id uint) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).First(&channel, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *channelRepository) GetChannelByName(ctx context.Context, name string) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).
		Where("name_lower = ?", strings.ToLower(name)).
		First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *channelRepository) GetChannelsByID(ctx context.Context, ids []uint) ([]*models.Channel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var channels []*models.Channel
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&channels).Error
	return channels, err
}

func (r *channelRepository) GetChannelsByName(ctx context.Context, names []string) (map[string]*models.Channel, error) {
	if len(names) == 0 {
		return map[string]*models.Channel{}, nil
	}

	lowered := make([]string, 0, len(names))
	for _, name := range names {
		lowered = append(lowered, strings.ToLower(name))
	}

	var channels []*models.Channel
	if err := r.db.WithContext(ctx).Where("name_lower IN ?", lowered).Find(&channels).Error; err != nil {
		return nil, err
	}

	out := make(map[string]*models.Channel, len(channels))
	for _, channel := range channels {
		out[channel.NameLower] = channel
	}
	return out, nil
}

func (r *channelRepository) SearchChannels(ctx context.Context, query string, limit, offset int) ([]*models.Channel, error) {
	var channels []*models.Channel
	q := r.db.WithContext(ctx).
		Order("user_count DESC, name ASC").
		Limit(limit).
		Offset(offset)
	if query != "" {
		q = q.Where("name_lower LIKE ?", "%"+strings.ToLower(query)+"%")
	}
	err := q.Find(&channels).Error
	return channels, err
}

func (r *channelRepository) UpdateChannel(ctx context.Context, id uint, patch models.ChannelPatch) (*models.Channel, error) {
	updates := map[string]any{}
	if patch.Topic != nil {
		updates["topic"] = *patch.Topic
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Private != nil {
		updates["private"] = *patch.Private
	}
	if patch.BannerPath != nil {
		updates["banner_path"] = *patch.BannerPath
	}
	if patch.BadgePath != nil {
		updates["badge_path"] = *patch.BadgePath
	}
	if len(updates) == 0 {
		return nil, errors.New("channel update contains no updatable columns")
	}

	res := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	return r.GetChannel(ctx, id)
}

func (r *channelRepository) AddMembership(ctx context.Context, userID, channelID uint) (*models.ChannelMembership, error) {
	now := time.Now().UTC()

	// Official channels never count against the join limit, and the
	// limit check itself is folded into the INSERT so concurrent
	// joins cannot overshoot MaximumJoinedChannels.
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO channel_memberships
			(channel_id, user_id, kick, ban, change_topic, toggle_private, edit_permissions, hide_banner, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE (SELECT official FROM channels WHERE id = ?)
		   OR (SELECT COUNT(*)
		         FROM channel_memberships m
		         JOIN channels c ON c.id = m.channel_id
		        WHERE m.user_id = ? AND NOT c.official) < ?`,
		channelID, userID, false, false, false, false, false, false, now, now,
		channelID,
		userID, models.MaximumJoinedChannels,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("id = ?", channelID).
		UpdateColumn("user_count", gorm.Expr("user_count + 1")).Error; err != nil {
		return nil, err
	}

	return r.GetMembership(ctx, channelID, userID)
}

func (r *channelRepository) GetMembership(ctx context.Context, channelID, userID uint) (*models.ChannelMembership, error) {
	var membership models.ChannelMembership
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

func (r *channelRepository) GetMemberships(ctx context.Context, channelID uint) ([]*models.ChannelMembership, error) {
	var memberships []*models.ChannelMembership
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Preload("User").
		Order("created_at ASC, user_id ASC").
		Find(&memberships).Error
	return memberships, err
}

func (r *channelRepository) GetUserChannels(ctx context.Context, userID uint) ([]*models.ChannelMembership, error) {
	var memberships []*models.ChannelMembership
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("Channel").
		Order("created_at ASC").
		Find(&memberships).Error
	return memberships, err
}

func (r *channelRepository) RemoveMembership(ctx context.Context, userID, channelID uint) (*RemovalResult, error) {
	res := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&models.ChannelMembership{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("id = ?", channelID).
		UpdateColumn("user_count", gorm.Expr("user_count - 1")).Error; err != nil {
		return nil, err
	}

	var channel models.Channel
	if err := r.db.WithContext(ctx).First(&channel, channelID).Error; err != nil {
		return nil, err
	}

	if channel.Official {
		return &RemovalResult{}, nil
	}

	// A non-official channel is destroyed the instant it empties.
	if channel.UserCount <= 0 {
		if err := r.db.WithContext(ctx).Delete(&models.Channel{}, channelID).Error; err != nil {
			return nil, err
		}
		return &RemovalResult{ChannelDeleted: true}, nil
	}

	if channel.OwnerID == nil || *channel.OwnerID != userID {
		return &RemovalResult{}, nil
	}

	// The departing user owned the channel: hand ownership to the
	// remaining member with the strongest permissions, earliest
	// joiner winning ties.
	var next struct{ UserID uint }
	err := r.db.WithContext(ctx).Raw(`
		SELECT user_id FROM channel_memberships
		WHERE channel_id = ?
		ORDER BY edit_permissions DESC, ban DESC, kick DESC, toggle_private DESC, change_topic DESC,
		         created_at ASC, user_id ASC
		LIMIT 1`, channelID).Scan(&next).Error
	if err != nil {
		return nil, err
	}
	if next.UserID == 0 {
		return nil, errors.New("non-empty channel has no candidate owner")
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("id = ?", channelID).
		Update("owner_id", next.UserID).Error; err != nil {
		return nil, err
	}

	newOwner := next.UserID
	return &RemovalResult{NewOwnerID: &newOwner}, nil
}

func (r *channelRepository) UpdatePermissions(ctx context.Context, channelID, userID uint, perms models.ChannelPermissions) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ChannelMembership{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Updates(map[string]any{
			"kick":             perms.Kick,
			"ban":              perms.Ban,
			"change_topic":     perms.ChangeTopic,
			"toggle_private":   perms.TogglePrivate,
			"edit_permissions": perms.EditPermissions,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *channelRepository) UpdatePreferences(ctx context.Context, channelID, userID uint, prefs models.ChannelPreferences) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ChannelMembership{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Update("hide_banner", prefs.HideBanner)
	return res.RowsAffected > 0, res.Error
}

func (r *channelRepository) InsertMessage(ctx context.Context, userID, channelID uint, msgID int64, msgType models.MessageType, data json.RawMessage) (*models.ChannelMessage, error) {
	sent := time.Now().UTC()

	// The membership check and the INSERT are one statement: a sender
	// removed between an earlier precondition check and this write
	// affects zero rows instead of leaving an orphaned message.
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO channel_messages (id, user_id, channel_id, sent, type, data)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM channel_memberships WHERE channel_id = ? AND user_id = ?)`,
		msgID, userID, channelID, sent, msgType, []byte(data),
		channelID, userID,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	return &models.ChannelMessage{
		ID:        msgID,
		UserID:    userID,
		ChannelID: channelID,
		Sent:      sent,
		Type:      msgType,
		Data:      data,
	}, nil
}

func (r *channelRepository) GetMessages(ctx context.Context, channelID uint, limit int, before time.Time) ([]*models.ChannelMessage, error) {
	var messages []*models.ChannelMessage
	q := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Preload("User").
		Order("sent DESC, id DESC").
		Limit(limit)
	if !before.IsZero() {
		q = q.Where("sent < ?", before)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}

	// Fetched DESC to get the latest page; delivered oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *channelRepository) DeleteMessage(ctx context.Context, channelID uint, messageID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("channel_id = ? AND id = ?", channelID, messageID).
		Delete(&models.ChannelMessage{})
	return res.RowsAffected > 0, res.Error
}

func (r *channelRepository) BanUser(ctx context.Context, params BanUserParams) (*models.ChannelBan, error) {
	reason := params.Reason

	// Automated bans inherit the most frequent prior ban reason among
	// the suspected alt accounts, most recent winning ties.
	if params.Automated && reason == "" && len(params.ConnectedUsers) > 0 {
		var row struct{ Reason string }
		err := r.db.WithContext(ctx).Raw(`
			SELECT reason FROM channel_bans
			WHERE channel_id = ? AND user_id IN ?
			GROUP BY reason
			ORDER BY COUNT(*) DESC, MAX(created_at) DESC
			LIMIT 1`, params.ChannelID, params.ConnectedUsers).Scan(&row).Error
		if err != nil {
			return nil, err
		}
		reason = row.Reason
	}

	ban := &models.ChannelBan{
		ChannelID: params.ChannelID,
		UserID:    params.TargetID,
		BannedBy:  params.ModeratorID,
		Reason:    reason,
		Automated: params.Automated,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ban).Error; err != nil {
		return nil, err
	}
	return ban, nil
}

func (r *channelRepository) IsUserBanned(ctx context.Context, channelID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChannelBan{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *channelRepository) BanAllIdentifiers(ctx context.Context, channelID, userID uint, excludeBrowserprint bool) error {
	now := time.Now().UTC()
	sql := `
		INSERT INTO channel_identifier_bans (channel_id, identifier_type, identifier_hash, created_at)
		SELECT ?, identifier_type, identifier_hash, ?
		FROM user_identifiers
		WHERE user_id = ?`
	args := []any{channelID, now, userID}
	if excludeBrowserprint {
		sql += ` AND identifier_type <> ?`
		args = append(args, models.IdentifierBrowserprint)
	}
	sql += ` ON CONFLICT DO NOTHING`

	return r.db.WithContext(ctx).Exec(sql, args...).Error
}

func (r *channelRepository) CountMatchingBannedIdentifiers(ctx context.Context, channelID, userID uint, excludeBrowserprint bool) (int, error) {
	sql := `
		SELECT COUNT(*)
		FROM channel_identifier_bans b
		JOIN user_identifiers u
		  ON u.identifier_type = b.identifier_type AND u.identifier_hash = b.identifier_hash
		WHERE b.channel_id = ? AND u.user_id = ?`
	args := []any{channelID, userID}
	if excludeBrowserprint {
		sql += ` AND b.identifier_type <> ?`
		args = append(args, models.IdentifierBrowserprint)
	}

	var count int
	err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&count).Error
	return count, err
}
