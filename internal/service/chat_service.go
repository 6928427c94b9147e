// Package service provides chat channel business logic.
package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"shieldchat/internal/featureflags"
	"shieldchat/internal/ids"
	"shieldchat/internal/models"
	"shieldchat/internal/notifications"
	"shieldchat/internal/observability"
	"shieldchat/internal/presence"
	"shieldchat/internal/repository"

	"gorm.io/gorm"
)

// Publisher fans events out to subscribed connections, keyed by string
// paths. Subscribe delivers the snapshot privately before joining the
// path; delivery is best-effort and never affects the caller's result.
type Publisher interface {
	Publish(path string, payload any)
	Subscribe(userID uint, path string, snapshot any)
	Unsubscribe(userID uint, path string)
}

// ModerationAction is what a moderator does to a channel member.
type ModerationAction string

const (
	ModerationKick ModerationAction = "kick"
	ModerationBan  ModerationAction = "ban"
)

// Feature flags gating operations on the reserved home channel.
const (
	flagCanLeaveShieldBattery    = "can_leave_shield_battery"
	flagCanModerateShieldBattery = "can_moderate_shield_battery"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	maxSearchLimit      = 100
)

var channelNamePattern = regexp.MustCompile("^[A-Za-z0-9`~!$^&*()\\[\\]\\-_+=.{} ]+$")

// ChatService orchestrates join/leave/send/moderate/query operations:
// it validates preconditions, runs the repository inside transactions,
// updates presence, and publishes events only after a successful
// commit.
type ChatService struct {
	channelRepo repository.ChannelRepository
	userRepo    repository.UserRepository
	db          *gorm.DB
	presence    *presence.Tracker
	publisher   Publisher
	msgIDs      *ids.Snowflake
	flags       *featureflags.Manager
	logger      *slog.Logger
}

// NewChatService returns a new ChatService.
func NewChatService(
	channelRepo repository.ChannelRepository,
	userRepo repository.UserRepository,
	db *gorm.DB,
	tracker *presence.Tracker,
	publisher Publisher,
	msgIDs *ids.Snowflake,
	flags *featureflags.Manager,
	logger *slog.Logger,
) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		channelRepo: channelRepo,
		userRepo:    userRepo,
		db:          db,
		presence:    tracker,
		publisher:   publisher,
		msgIDs:      msgIDs,
		flags:       flags,
		logger:      logger,
	}
}

// JoinChannel adds the user to the named channel, creating it (with the
// user as owner) when it does not exist yet. On success the user is
// marked active, other members receive a join event, and the user's
// connection is subscribed to the channel paths with an initial
// snapshot.
func (s *ChatService) JoinChannel(ctx context.Context, userID uint, channelName string) (*models.Channel, error) {
	channel, finish, err := s.joinChannel(ctx, userID, channelName)
	if err != nil {
		return nil, err
	}
	finish()
	return channel, nil
}

// JoinInitialChannel joins the reserved home channel at session start.
// The presence/broadcast/subscribe step is returned as a completion
// func so the caller can defer it until its surrounding session setup
// has committed, instead of announcing a join that might roll back.
func (s *ChatService) JoinInitialChannel(ctx context.Context, userID uint) (func(), error) {
	channel, err := s.channelRepo.GetChannelByName(ctx, models.ShieldBatteryChannelName)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, models.NewChatError(models.ErrNoInitialChannelData, "Initial channel is not provisioned")
	}

	_, finish, err := s.joinChannel(ctx, userID, channel.Name)
	if err != nil {
		return nil, err
	}
	return finish, nil
}

func (s *ChatService) joinChannel(ctx context.Context, userID uint, channelName string) (*models.Channel, func(), error) {
	channelName = strings.TrimSpace(channelName)
	if channelName == "" || len(channelName) > models.MaxChannelNameLength || !channelNamePattern.MatchString(channelName) {
		return nil, nil, models.NewValidationError("Invalid channel name")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, models.NewChatError(models.ErrUserNotFound, "User not found")
	}

	channel, err := s.channelRepo.GetChannelByName(ctx, channelName)
	if err != nil {
		return nil, nil, err
	}
	if channel != nil {
		if err := s.checkJoinBans(ctx, channel.ID, userID); err != nil {
			return nil, nil, err
		}
	}

	var membership *models.ChannelMembership
	var joinMsg *models.ChannelMessage
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.channelRepo.WithTx(tx)

		if channel == nil {
			created, err := repo.CreateChannel(ctx, userID, channelName)
			if err != nil {
				if repository.IsUniqueViolation(err) {
					// Lost a create race; the channel exists now.
					existing, gerr := repo.GetChannelByName(ctx, channelName)
					if gerr != nil {
						return gerr
					}
					channel = existing
				} else {
					return err
				}
			} else if created == nil {
				return models.NewChatError(models.ErrMaximumOwnedChannels, "Maximum owned channels reached")
			} else {
				channel = created
				s.logger.Info("channel created on join", "channel", created.Name, "owner", userID)
			}
		}

		m, err := repo.AddMembership(ctx, userID, channel.ID)
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return models.NewValidationError("Already in this channel")
			}
			return err
		}
		if m == nil {
			return models.NewChatError(models.ErrMaximumJoinedChannels, "Maximum joined channels reached")
		}
		membership = m

		data, err := models.EncodeMessageData(models.JoinChannelData{})
		if err != nil {
			return err
		}
		msg, err := repo.InsertMessage(ctx, userID, channel.ID, s.msgIDs.Next(), models.MessageTypeJoin, data)
		if err != nil {
			return err
		}
		if msg == nil {
			return models.NewChatError(models.ErrNotInChannel, "Not in this channel")
		}
		joinMsg = msg
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	finish := func() {
		s.presence.MarkActive(channel.ID, user)
		// Broadcast before subscribing the joiner so they see the
		// snapshot, not their own join event.
		s.publish(notifications.ChannelPath(channel.ID), notifications.NewUserJoinedEvent(user, joinMsg))
		s.subscribe(userID, notifications.ChannelPath(channel.ID),
			notifications.NewChannelInitEvent(channel, s.presence.ActiveUserIDs(channel.ID), membership.Permissions()))
		s.subscribe(userID, notifications.ChannelUserPath(channel.ID, userID), nil)
	}
	return channel, finish, nil
}

// checkJoinBans rejects a join when the user carries a direct ban or
// when enough of their identifiers match the channel's identifier bans
// to look like ban evasion.
func (s *ChatService) checkJoinBans(ctx context.Context, channelID, userID uint) error {
	banned, err := s.channelRepo.IsUserBanned(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if banned {
		return models.NewChatError(models.ErrUserBanned, "You are banned from this channel")
	}

	matches, err := s.channelRepo.CountMatchingBannedIdentifiers(ctx, channelID, userID, true)
	if err != nil {
		return err
	}
	if matches >= models.MinIdentifierMatches {
		// Ban evasion: record an automated ban against the evading
		// account so future joins fail on the direct check, with the
		// reason inferred from the accounts it shares identifiers
		// with.
		connected, err := s.userRepo.FindConnectedUsers(ctx, userID, true)
		if err != nil {
			return err
		}
		if _, err := s.channelRepo.BanUser(ctx, repository.BanUserParams{
			ChannelID:      channelID,
			TargetID:       userID,
			Automated:      true,
			ConnectedUsers: connected,
		}); err != nil {
			return err
		}
		if err := s.channelRepo.BanAllIdentifiers(ctx, channelID, userID, true); err != nil {
			return err
		}
		s.logger.Info("automated ban for identifier match", "channel", channelID, "user", userID, "matches", matches)
		return models.NewChatError(models.ErrUserBanned, "You are banned from this channel")
	}
	return nil
}

// LeaveChannel removes the user from the channel and returns the new
// owner id when the departure triggered an ownership transfer.
func (s *ChatService) LeaveChannel(ctx context.Context, userID, channelID uint) (*uint, error) {
	channel, err := s.channelRepo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, models.NewChatError(models.ErrChannelNotFound, "Channel not found")
	}
	if isReservedChannel(channel) && !s.flags.Enabled(flagCanLeaveShieldBattery, userID) {
		return nil, models.NewChatError(models.ErrCannotLeaveShieldBattery, "Cannot leave this channel")
	}

	var result *repository.RemovalResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.channelRepo.WithTx(tx).RemoveMembership(ctx, userID, channelID)
		if err != nil {
			return err
		}
		if res == nil {
			return models.NewChatError(models.ErrNotInChannel, "Not in this channel")
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.presence.MarkInactive(channelID, userID)
	s.publish(notifications.ChannelPath(channelID), notifications.NewUserLeftEvent(userID, result.NewOwnerID))
	s.unsubscribe(userID, notifications.ChannelPath(channelID))
	s.unsubscribe(userID, notifications.ChannelUserPath(channelID, userID))
	return result.NewOwnerID, nil
}

// ModerateUser kicks or bans a channel member, enforcing the tier
// ordering ServerModerator > Owner > ChannelModerator > Member.
func (s *ChatService) ModerateUser(
	ctx context.Context, channelID, actorID, targetID uint, action ModerationAction, reason string,
) (*uint, error) {
	if action != ModerationKick && action != ModerationBan {
		return nil, models.NewValidationError("Unknown moderation action")
	}
	if actorID == targetID {
		return nil, models.NewChatError(models.ErrCannotModerateYourself, "Cannot moderate yourself")
	}

	channel, err := s.channelRepo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, models.NewChatError(models.ErrChannelNotFound, "Channel not found")
	}
	if isReservedChannel(channel) && !s.flags.Enabled(flagCanModerateShieldBattery, actorID) {
		return nil, models.NewChatError(models.ErrCannotModerateShieldBattery, "Cannot moderate this channel")
	}

	actorMembership, err := s.channelRepo.GetMembership(ctx, channelID, actorID)
	if err != nil {
		return nil, err
	}
	if actorMembership == nil {
		return nil, models.NewChatError(models.ErrNotInChannel, "Not in this channel")
	}
	targetMembership, err := s.channelRepo.GetMembership(ctx, channelID, targetID)
	if err != nil {
		return nil, err
	}
	if targetMembership == nil {
		return nil, models.NewChatError(models.ErrTargetNotInChannel, "Target is not in this channel")
	}

	actor, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	actorTier := tierOf(channel, actorMembership, actor)
	targetTier := tierOf(channel, targetMembership, nil)

	switch {
	case targetTier == tierOwner && actorTier < tierServerModerator:
		return nil, models.NewChatError(models.ErrCannotModerateChannelOwner, "Cannot moderate the channel owner")
	case targetTier == tierChannelModerator && actorTier < tierOwner:
		return nil, models.NewChatError(models.ErrCannotModerateChannelModerator, "Cannot moderate a channel moderator")
	}
	if actorTier < tierOwner && !actorHasActionPermission(actorMembership, action) {
		return nil, models.NewChatError(models.ErrNotEnoughPermissions, "Not enough permissions")
	}

	var result *repository.RemovalResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.channelRepo.WithTx(tx)
		res, err := repo.RemoveMembership(ctx, targetID, channelID)
		if err != nil {
			return err
		}
		if res == nil {
			return models.NewChatError(models.ErrTargetNotInChannel, "Target is not in this channel")
		}
		result = res

		if action == ModerationBan {
			if _, err := repo.BanUser(ctx, repository.BanUserParams{
				ChannelID:   channelID,
				TargetID:    targetID,
				ModeratorID: &actorID,
				Reason:      reason,
			}); err != nil {
				return err
			}
			if err := repo.BanAllIdentifiers(ctx, channelID, targetID, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user moderated", "channel", channelID, "actor", actorID, "target", targetID, "action", action)
	s.presence.MarkInactive(channelID, targetID)
	s.publish(notifications.ChannelPath(channelID),
		notifications.NewModerationEvent(string(action), targetID, result.NewOwnerID))
	s.unsubscribe(targetID, notifications.ChannelPath(channelID))
	s.unsubscribe(targetID, notifications.ChannelUserPath(channelID, targetID))
	return result.NewOwnerID, nil
}

// SendChatMessage parses mentions, stores the message, and broadcasts
// it to active members. The membership check and the insert are one
// atomic statement, so a sender kicked after an earlier check still
// fails cleanly instead of leaving a ghost message.
func (s *ChatService) SendChatMessage(ctx context.Context, channelID, userID uint, rawText string) (*models.ChannelMessage, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, models.NewValidationError("Message text is required")
	}

	sender, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, models.NewChatError(models.ErrUserNotFound, "User not found")
	}

	userNames, channelNames := parseMentions(text)
	usersByName, err := s.userRepo.GetByNames(ctx, userNames)
	if err != nil {
		return nil, err
	}
	channelsByName, err := s.channelRepo.GetChannelsByName(ctx, channelNames)
	if err != nil {
		return nil, err
	}
	text, mentionedUsers, mentionedChannels := expandMentions(text, usersByName, channelsByName)
	if len(text) > models.MaxMessageTextLength {
		return nil, models.NewValidationError("Message text too long")
	}

	payload := models.TextMessageData{Text: text}
	for _, u := range mentionedUsers {
		payload.Mentions = append(payload.Mentions, u.ID)
	}
	for _, c := range mentionedChannels {
		payload.ChannelMentions = append(payload.ChannelMentions, c.ID)
	}
	data, err := models.EncodeMessageData(payload)
	if err != nil {
		return nil, err
	}

	msg, err := s.channelRepo.InsertMessage(ctx, userID, channelID, s.msgIDs.Next(), models.MessageTypeText, data)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, models.NewChatError(models.ErrNotInChannel, "Not in this channel")
	}
	msg.User = sender

	observability.ChatMessagesTotal.Inc()
	s.publish(notifications.ChannelPath(channelID), notifications.NewTextMessageEvent(msg, sender, mentionedUsers))
	return msg, nil
}

// DeleteMessage removes a message from the channel log. Admin gating
// happens at the API boundary.
func (s *ChatService) DeleteMessage(ctx context.Context, channelID uint, messageID int64) error {
	channel, err := s.channelRepo.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if channel == nil {
		return models.NewChatError(models.ErrChannelNotFound, "Channel not found")
	}

	deleted, err := s.channelRepo.DeleteMessage(ctx, channelID, messageID)
	if err != nil {
		return err
	}
	if !deleted {
		return models.NewChatError(models.ErrMessageNotFound, "Message not found")
	}

	s.publish(notifications.ChannelPath(channelID), notifications.NewMessageDeletedEvent(messageID))
	return nil
}

// GetChannelHistory returns up to limit messages sent before the given
// time, oldest first.
func (s *ChatService) GetChannelHistory(
	ctx context.Context, channelID, userID uint, limit int, before time.Time, isAdmin bool,
) ([]*models.ChannelMessage, error) {
	if err := s.requireMembership(ctx, channelID, userID, isAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.channelRepo.GetMessages(ctx, channelID, limit, before)
}

// GetChannelUsers returns every member of the channel.
func (s *ChatService) GetChannelUsers(ctx context.Context, channelID, userID uint, isAdmin bool) ([]*models.User, error) {
	if err := s.requireMembership(ctx, channelID, userID, isAdmin); err != nil {
		return nil, err
	}
	memberships, err := s.channelRepo.GetMemberships(ctx, channelID)
	if err != nil {
		return nil, err
	}
	users := make([]*models.User, 0, len(memberships))
	for _, m := range memberships {
		if m.User != nil {
			users = append(users, m.User)
		}
	}
	return users, nil
}

// ChatUserProfile is what members see when they inspect another member.
type ChatUserProfile struct {
	User        *models.User              `json:"user"`
	ChannelID   uint                      `json:"channel_id"`
	JoinDate    time.Time                 `json:"join_date"`
	IsModerator bool                      `json:"is_moderator"`
	Preferences models.ChannelPreferences `json:"preferences"`
}

// GetChatUserProfile returns the target's in-channel profile.
func (s *ChatService) GetChatUserProfile(ctx context.Context, channelID, callerID, targetID uint) (*ChatUserProfile, error) {
	if err := s.requireMembership(ctx, channelID, callerID, false); err != nil {
		return nil, err
	}
	channel, err := s.channelRepo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, models.NewChatError(models.ErrChannelNotFound, "Channel not found")
	}
	targetMembership, err := s.channelRepo.GetMembership(ctx, channelID, targetID)
	if err != nil {
		return nil, err
	}
	if targetMembership == nil {
		return nil, models.NewChatError(models.ErrTargetNotInChannel, "Target is not in this channel")
	}
	target, err := s.userRepo.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, models.NewChatError(models.ErrUserNotFound, "User not found")
	}

	return &ChatUserProfile{
		User:        target,
		ChannelID:   channelID,
		JoinDate:    targetMembership.CreatedAt,
		IsModerator: tierOf(channel, targetMembership, nil) >= tierChannelModerator,
		Preferences: targetMembership.Preferences(),
	}, nil
}

// GetUserPermissions returns the target's per-channel permissions.
// Only the owner, a server moderator, or an editPermissions holder may
// look.
func (s *ChatService) GetUserPermissions(ctx context.Context, channelID, actorID, targetID uint) (models.ChannelPermissions, error) {
	var none models.ChannelPermissions

	_, actorTier, err := s.resolveActorTier(ctx, channelID, actorID)
	if err != nil {
		return none, err
	}
	if actorTier < tierChannelModerator {
		return none, models.NewChatError(models.ErrNotEnoughPermissions, "Not enough permissions")
	}

	targetMembership, err := s.channelRepo.GetMembership(ctx, channelID, targetID)
	if err != nil {
		return none, err
	}
	if targetMembership == nil {
		return none, models.NewChatError(models.ErrTargetNotInChannel, "Target is not in this channel")
	}
	return targetMembership.Permissions(), nil
}

// UpdateUserPermissions rewrites the target's per-channel permissions
// and notifies them privately on their per-user path. The owner and
// server moderators may edit anyone but the owner; an editPermissions
// holder may only edit plain members.
func (s *ChatService) UpdateUserPermissions(
	ctx context.Context, channelID, actorID, targetID uint, perms models.ChannelPermissions,
) error {
	channel, actorTier, err := s.resolveActorTier(ctx, channelID, actorID)
	if err != nil {
		return err
	}
	if channel.OwnerID != nil && *channel.OwnerID == targetID {
		return models.NewChatError(models.ErrCannotChangeChannelOwner, "Cannot change the channel owner's permissions")
	}

	targetMembership, err := s.channelRepo.GetMembership(ctx, channelID, targetID)
	if err != nil {
		return err
	}
	if targetMembership == nil {
		return models.NewChatError(models.ErrTargetNotInChannel, "Target is not in this channel")
	}

	targetTier := tierOf(channel, targetMembership, nil)
	switch {
	case actorTier >= tierOwner:
		// Owner and server moderators may edit anyone but the owner.
	case actorTier == tierChannelModerator && targetTier < tierChannelModerator:
		// editPermissions holders may edit plain members only.
	case actorTier == tierChannelModerator:
		return models.NewChatError(models.ErrCannotModerateChannelModerator, "Cannot edit a channel moderator's permissions")
	default:
		return models.NewChatError(models.ErrNotEnoughPermissions, "Not enough permissions")
	}

	updated, err := s.channelRepo.UpdatePermissions(ctx, channelID, targetID, perms)
	if err != nil {
		return err
	}
	if !updated {
		return models.NewChatError(models.ErrTargetNotInChannel, "Target is not in this channel")
	}

	s.publish(notifications.ChannelUserPath(channelID, targetID), notifications.NewPermissionsChangedEvent(perms))
	return nil
}

// UpdateUserPreferences stores per-channel preferences for the caller.
func (s *ChatService) UpdateUserPreferences(ctx context.Context, channelID, userID uint, prefs models.ChannelPreferences) error {
	updated, err := s.channelRepo.UpdatePreferences(ctx, channelID, userID, prefs)
	if err != nil {
		return err
	}
	if !updated {
		return models.NewChatError(models.ErrNotInChannel, "Not in this channel")
	}
	return nil
}

// SearchChannels finds channels by name substring, most populated
// first.
func (s *ChatService) SearchChannels(ctx context.Context, query string, limit, offset int) ([]*models.Channel, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.channelRepo.SearchChannels(ctx, strings.TrimSpace(query), limit, offset)
}

// EditChannel applies a patch to the channel row. The owner and server
// moderators may change anything; a changeTopic holder may edit the
// topic and description, a togglePrivate holder the private flag.
func (s *ChatService) EditChannel(ctx context.Context, channelID, userID uint, patch models.ChannelPatch) (*models.Channel, error) {
	if patch.Empty() {
		return nil, models.NewValidationError("Nothing to update")
	}

	channel, err := s.channelRepo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, models.NewChatError(models.ErrChannelNotFound, "Channel not found")
	}

	membership, err := s.channelRepo.GetMembership(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, models.NewChatError(models.ErrNotInChannel, "Not in this channel")
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if tierOf(channel, membership, user) < tierOwner {
		if (patch.Topic != nil || patch.Description != nil) && !membership.ChangeTopic {
			return nil, models.NewChatError(models.ErrCannotEditChannel, "Cannot edit this channel")
		}
		if patch.Private != nil && !membership.TogglePrivate {
			return nil, models.NewChatError(models.ErrCannotEditChannel, "Cannot edit this channel")
		}
		if patch.BannerPath != nil || patch.BadgePath != nil {
			return nil, models.NewChatError(models.ErrCannotEditChannel, "Cannot edit this channel")
		}
	}

	return s.channelRepo.UpdateChannel(ctx, channelID, patch)
}

// OnNewUser rebuilds the user's presence from their membership rows
// when their first live connection appears, and resubscribes the
// connection to every joined channel with a fresh snapshot.
func (s *ChatService) OnNewUser(ctx context.Context, userID uint) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return models.NewChatError(models.ErrUserNotFound, "User not found")
	}

	memberships, err := s.channelRepo.GetUserChannels(ctx, userID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		s.presence.MarkActive(m.ChannelID, user)
		s.subscribe(userID, notifications.ChannelPath(m.ChannelID),
			notifications.NewChannelInitEvent(m.Channel, s.presence.ActiveUserIDs(m.ChannelID), m.Permissions()))
		s.subscribe(userID, notifications.ChannelUserPath(m.ChannelID, userID), nil)
	}
	return nil
}

// OnUserQuit drops the user from presence in every channel once their
// last live connection is gone.
func (s *ChatService) OnUserQuit(userID uint) {
	for _, channelID := range s.presence.JoinedChannels(userID) {
		s.presence.MarkInactive(channelID, userID)
		s.unsubscribe(userID, notifications.ChannelPath(channelID))
		s.unsubscribe(userID, notifications.ChannelUserPath(channelID, userID))
	}
}

func (s *ChatService) requireMembership(ctx context.Context, channelID, userID uint, isAdmin bool) error {
	if isAdmin {
		channel, err := s.channelRepo.GetChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if channel == nil {
			return models.NewChatError(models.ErrChannelNotFound, "Channel not found")
		}
		return nil
	}

	membership, err := s.channelRepo.GetMembership(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if membership == nil {
		return models.NewChatError(models.ErrNotInChannel, "Not in this channel")
	}
	return nil
}

// resolveActorTier loads the channel, the actor's membership, and the
// actor's global flags, and computes the actor's tier.
func (s *ChatService) resolveActorTier(ctx context.Context, channelID, actorID uint) (*models.Channel, moderationTier, error) {
	channel, err := s.channelRepo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, tierMember, err
	}
	if channel == nil {
		return nil, tierMember, models.NewChatError(models.ErrChannelNotFound, "Channel not found")
	}
	membership, err := s.channelRepo.GetMembership(ctx, channelID, actorID)
	if err != nil {
		return nil, tierMember, err
	}
	if membership == nil {
		return nil, tierMember, models.NewChatError(models.ErrNotInChannel, "Not in this channel")
	}
	actor, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, tierMember, err
	}
	return channel, tierOf(channel, membership, actor), nil
}

// moderationTier ranks moderation authority. Higher tiers may act on
// strictly lower ones.
type moderationTier int

const (
	tierMember moderationTier = iota
	tierChannelModerator
	tierOwner
	tierServerModerator
)

func tierOf(channel *models.Channel, membership *models.ChannelMembership, user *models.User) moderationTier {
	switch {
	case user != nil && (user.IsAdmin || user.ModerateChatChannels):
		return tierServerModerator
	case channel.OwnerID != nil && *channel.OwnerID == membership.UserID:
		return tierOwner
	case membership.EditPermissions:
		return tierChannelModerator
	default:
		return tierMember
	}
}

func actorHasActionPermission(m *models.ChannelMembership, action ModerationAction) bool {
	switch action {
	case ModerationKick:
		return m.Kick
	case ModerationBan:
		return m.Ban
	default:
		return false
	}
}

func isReservedChannel(channel *models.Channel) bool {
	return channel.NameLower == strings.ToLower(models.ShieldBatteryChannelName)
}

func (s *ChatService) publish(path string, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(path, payload)
}

func (s *ChatService) subscribe(userID uint, path string, snapshot any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Subscribe(userID, path, snapshot)
}

func (s *ChatService) unsubscribe(userID uint, path string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Unsubscribe(userID, path)
}
