package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the tagged message payload variants.
type MessageType string

const (
	// MessageTypeText is a user-authored chat message.
	MessageTypeText MessageType = "textMessage"
	// MessageTypeJoin marks a user joining the channel.
	MessageTypeJoin MessageType = "joinChannel"
)

// MaxMessageTextLength caps chat message text after mention parsing.
const MaxMessageTextLength = 1800

// ChannelMessage is an immutable log entry owned by a channel. The ID
// is a time-ordered snowflake; rows are only appended or
// administratively deleted, never mutated.
type ChannelMessage struct {
	ID        int64           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID    uint            `gorm:"not null;index" json:"user_id"`
	ChannelID uint            `gorm:"not null;index:idx_channel_messages_channel_sent" json:"channel_id"`
	Sent      time.Time       `gorm:"not null;index:idx_channel_messages_channel_sent" json:"sent"`
	Type      MessageType     `gorm:"type:varchar(32);not null" json:"type"`
	Data      json.RawMessage `json:"data"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName specifies the table name for GORM.
func (ChannelMessage) TableName() string {
	return "channel_messages"
}

// TextMessageData is the payload of a MessageTypeText message.
type TextMessageData struct {
	Text            string `json:"text"`
	Mentions        []uint `json:"mentions,omitempty"`
	ChannelMentions []uint `json:"channel_mentions,omitempty"`
}

// JoinChannelData is the (empty) payload of a MessageTypeJoin message.
type JoinChannelData struct{}

// EncodeMessageData serializes a typed payload for storage.
func EncodeMessageData(data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode message data: %w", err)
	}
	return raw, nil
}

// TextData decodes the message payload as a TextMessageData. Callers
// must check Type first; decoding a join message returns an error.
func (m *ChannelMessage) TextData() (*TextMessageData, error) {
	if m.Type != MessageTypeText {
		return nil, fmt.Errorf("message %d is %q, not a text message", m.ID, m.Type)
	}
	var data TextMessageData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return nil, fmt.Errorf("decode text message %d: %w", m.ID, err)
	}
	return &data, nil
}
