package notifications

import (
	"strconv"

	"shieldchat/internal/models"
)

// Event actions carried in the `action` discriminator of every
// path-scoped payload. Consumers switch on this field.
const (
	ActionInit               = "init3"
	ActionJoin               = "join2"
	ActionLeave              = "leave2"
	ActionKick               = "kick"
	ActionBan                = "ban"
	ActionMessage            = "message2"
	ActionMessageDeleted     = "messageDeleted"
	ActionPermissionsChanged = "permissionsChanged"
)

// ChannelPath is the broadcast path every active member of a channel
// subscribes to.
func ChannelPath(channelID uint) string {
	return "/chat/" + strconv.FormatUint(uint64(channelID), 10)
}

// ChannelUserPath is the private per-user path used for notices only
// one member should see, such as permission changes.
func ChannelUserPath(channelID, userID uint) string {
	return ChannelPath(channelID) + "/users/" + strconv.FormatUint(uint64(userID), 10)
}

// ChannelInitEvent is delivered privately to a user when their
// connection is subscribed to a channel.
type ChannelInitEvent struct {
	Action          string                    `json:"action"`
	Channel         *models.Channel           `json:"channel"`
	ActiveUserIDs   []uint                    `json:"activeUserIds"`
	SelfPermissions models.ChannelPermissions `json:"selfPermissions"`
}

func NewChannelInitEvent(channel *models.Channel, activeUserIDs []uint, perms models.ChannelPermissions) ChannelInitEvent {
	return ChannelInitEvent{Action: ActionInit, Channel: channel, ActiveUserIDs: activeUserIDs, SelfPermissions: perms}
}

// UserJoinedEvent announces a new member to everyone already in the
// channel.
type UserJoinedEvent struct {
	Action  string                 `json:"action"`
	User    *models.User           `json:"user"`
	Message *models.ChannelMessage `json:"message"`
}

func NewUserJoinedEvent(user *models.User, message *models.ChannelMessage) UserJoinedEvent {
	return UserJoinedEvent{Action: ActionJoin, User: user, Message: message}
}

// UserLeftEvent announces a departure. NewOwnerID is set when the
// departure triggered an ownership transfer.
type UserLeftEvent struct {
	Action     string `json:"action"`
	UserID     uint   `json:"userId"`
	NewOwnerID *uint  `json:"newOwnerId,omitempty"`
}

func NewUserLeftEvent(userID uint, newOwnerID *uint) UserLeftEvent {
	return UserLeftEvent{Action: ActionLeave, UserID: userID, NewOwnerID: newOwnerID}
}

// ModerationEvent announces a kick or a ban; Action distinguishes the
// two.
type ModerationEvent struct {
	Action     string `json:"action"`
	TargetID   uint   `json:"targetId"`
	NewOwnerID *uint  `json:"newOwnerId,omitempty"`
}

func NewModerationEvent(action string, targetID uint, newOwnerID *uint) ModerationEvent {
	return ModerationEvent{Action: action, TargetID: targetID, NewOwnerID: newOwnerID}
}

// TextMessageEvent carries a newly sent chat message together with the
// sender and any mentioned users, so clients can render mentions
// without a follow-up lookup.
type TextMessageEvent struct {
	Action   string                 `json:"action"`
	Message  *models.ChannelMessage `json:"message"`
	User     *models.User           `json:"user"`
	Mentions []*models.User         `json:"mentions"`
}

func NewTextMessageEvent(message *models.ChannelMessage, user *models.User, mentions []*models.User) TextMessageEvent {
	return TextMessageEvent{Action: ActionMessage, Message: message, User: user, Mentions: mentions}
}

// MessageDeletedEvent tells clients to drop a message from their view.
type MessageDeletedEvent struct {
	Action    string `json:"action"`
	MessageID int64  `json:"messageId,string"`
}

func NewMessageDeletedEvent(messageID int64) MessageDeletedEvent {
	return MessageDeletedEvent{Action: ActionMessageDeleted, MessageID: messageID}
}

// PermissionsChangedEvent is sent on the target's per-user path only.
type PermissionsChangedEvent struct {
	Action          string                    `json:"action"`
	SelfPermissions models.ChannelPermissions `json:"selfPermissions"`
}

func NewPermissionsChangedEvent(perms models.ChannelPermissions) PermissionsChangedEvent {
	return PermissionsChangedEvent{Action: ActionPermissionsChanged, SelfPermissions: perms}
}
