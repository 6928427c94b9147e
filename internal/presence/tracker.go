// Package presence tracks which channel members currently have live
// connections. State is process-local and ephemeral: it is rebuilt from
// membership rows as users reconnect and is lost on restart.
package presence

import (
	"sync"

	"shieldchat/internal/models"
)

// Tracker maintains the active member set per channel and the joined
// channel set per user. All methods tolerate unknown ids.
type Tracker struct {
	mu sync.RWMutex

	// channelID -> userID -> member, plus activation order per channel
	active map[uint]map[uint]*models.User
	order  map[uint][]uint

	// userID -> set of channelIDs
	channels map[uint]map[uint]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:   make(map[uint]map[uint]*models.User),
		order:    make(map[uint][]uint),
		channels: make(map[uint]map[uint]struct{}),
	}
}

// MarkActive records a live member in a channel. Re-marking an already
// active member keeps their original activation position.
func (t *Tracker) MarkActive(channelID uint, member *models.User) {
	if member == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.active[channelID]
	if !ok {
		members = make(map[uint]*models.User)
		t.active[channelID] = members
	}
	if _, exists := members[member.ID]; !exists {
		t.order[channelID] = append(t.order[channelID], member.ID)
	}
	members[member.ID] = member

	if t.channels[member.ID] == nil {
		t.channels[member.ID] = make(map[uint]struct{})
	}
	t.channels[member.ID][channelID] = struct{}{}
}

// MarkInactive removes a member from a channel's active set.
func (t *Tracker) MarkInactive(channelID, userID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if members, ok := t.active[channelID]; ok {
		if _, exists := members[userID]; exists {
			delete(members, userID)
			order := t.order[channelID]
			for i, id := range order {
				if id == userID {
					t.order[channelID] = append(order[:i], order[i+1:]...)
					break
				}
			}
		}
		if len(members) == 0 {
			delete(t.active, channelID)
			delete(t.order, channelID)
		}
	}

	if chans, ok := t.channels[userID]; ok {
		delete(chans, channelID)
		if len(chans) == 0 {
			delete(t.channels, userID)
		}
	}
}

// ActiveMembers returns a channel's live members in activation order.
func (t *Tracker) ActiveMembers(channelID uint) []*models.User {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.active[channelID]
	out := make([]*models.User, 0, len(members))
	for _, id := range t.order[channelID] {
		if m, ok := members[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// ActiveUserIDs returns a channel's live member ids in activation order.
func (t *Tracker) ActiveUserIDs(channelID uint) []uint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.active[channelID]
	out := make([]uint, 0, len(members))
	for _, id := range t.order[channelID] {
		if _, ok := members[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// JoinedChannels returns the channel ids a user is currently active in.
func (t *Tracker) JoinedChannels(userID uint) []uint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	chans := t.channels[userID]
	out := make([]uint, 0, len(chans))
	for id := range chans {
		out = append(out, id)
	}
	return out
}

// IsActive reports whether a user is live in a channel.
func (t *Tracker) IsActive(channelID, userID uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members, ok := t.active[channelID]
	if !ok {
		return false
	}
	_, active := members[userID]
	return active
}
