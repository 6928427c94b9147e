package service

import (
	"regexp"
	"strconv"
	"strings"

	"shieldchat/internal/models"
)

// Mentions are written as @username for users and #name for channels.
// Names match the username charset: letters, digits, and a few
// punctuation characters, up to 32 runes.
var mentionPattern = regexp.MustCompile(`(^|\s)([@#])([A-Za-z0-9][A-Za-z0-9_.\-]{0,31})`)

// parseMentions scans text for mention candidates and returns the
// distinct lowercased user and channel names, in order of appearance.
func parseMentions(text string) (userNames, channelNames []string) {
	seenUsers := make(map[string]struct{})
	seenChannels := make(map[string]struct{})

	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(match[3])
		switch match[2] {
		case "@":
			if _, ok := seenUsers[name]; !ok {
				seenUsers[name] = struct{}{}
				userNames = append(userNames, name)
			}
		case "#":
			if _, ok := seenChannels[name]; !ok {
				seenChannels[name] = struct{}{}
				channelNames = append(channelNames, name)
			}
		}
	}
	return userNames, channelNames
}

// expandMentions rewrites resolved mentions as <@id> / <#id> markers so
// clients render them against current names, and returns the mentioned
// users and channels in first-appearance order. Names that resolve to
// nothing stay as literal text.
func expandMentions(
	text string,
	users map[string]*models.User,
	channels map[string]*models.Channel,
) (string, []*models.User, []*models.Channel) {
	var mentionedUsers []*models.User
	var mentionedChannels []*models.Channel
	seenUsers := make(map[uint]struct{})
	seenChannels := make(map[uint]struct{})

	expanded := mentionPattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := mentionPattern.FindStringSubmatch(match)
		prefix, sigil, name := parts[1], parts[2], strings.ToLower(parts[3])

		switch sigil {
		case "@":
			user, ok := users[name]
			if !ok {
				return match
			}
			if _, dup := seenUsers[user.ID]; !dup {
				seenUsers[user.ID] = struct{}{}
				mentionedUsers = append(mentionedUsers, user)
			}
			return prefix + "<@" + strconv.FormatUint(uint64(user.ID), 10) + ">"
		case "#":
			channel, ok := channels[name]
			if !ok {
				return match
			}
			if _, dup := seenChannels[channel.ID]; !dup {
				seenChannels[channel.ID] = struct{}{}
				mentionedChannels = append(mentionedChannels, channel)
			}
			return prefix + "<#" + strconv.FormatUint(uint64(channel.ID), 10) + ">"
		}
		return match
	})

	return expanded, mentionedUsers, mentionedChannels
}
