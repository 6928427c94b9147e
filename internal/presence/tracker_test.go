package presence

import (
	"testing"

	"shieldchat/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestTracker_EmptyQueries(t *testing.T) {
	tr := NewTracker()

	assert.Empty(t, tr.ActiveMembers(42))
	assert.Empty(t, tr.ActiveUserIDs(42))
	assert.Empty(t, tr.JoinedChannels(7))
	assert.False(t, tr.IsActive(42, 7))

	// MarkInactive on unknown ids must not panic.
	tr.MarkInactive(42, 7)
}

func TestTracker_ActivationOrder(t *testing.T) {
	tr := NewTracker()
	u1 := &models.User{ID: 1, Username: "one"}
	u2 := &models.User{ID: 2, Username: "two"}
	u3 := &models.User{ID: 3, Username: "three"}

	tr.MarkActive(10, u1)
	tr.MarkActive(10, u2)
	tr.MarkActive(10, u3)

	assert.Equal(t, []uint{1, 2, 3}, tr.ActiveUserIDs(10))

	// Re-marking keeps the original position.
	tr.MarkActive(10, u1)
	assert.Equal(t, []uint{1, 2, 3}, tr.ActiveUserIDs(10))

	tr.MarkInactive(10, u2.ID)
	assert.Equal(t, []uint{1, 3}, tr.ActiveUserIDs(10))

	members := tr.ActiveMembers(10)
	assert.Len(t, members, 2)
	assert.Equal(t, "one", members[0].Username)
	assert.Equal(t, "three", members[1].Username)
}

func TestTracker_JoinedChannels(t *testing.T) {
	tr := NewTracker()
	u := &models.User{ID: 5}

	tr.MarkActive(1, u)
	tr.MarkActive(2, u)

	assert.ElementsMatch(t, []uint{1, 2}, tr.JoinedChannels(5))
	assert.True(t, tr.IsActive(1, 5))

	tr.MarkInactive(1, 5)
	assert.Equal(t, []uint{2}, tr.JoinedChannels(5))
	assert.False(t, tr.IsActive(1, 5))

	tr.MarkInactive(2, 5)
	assert.Empty(t, tr.JoinedChannels(5))
}

func TestTracker_ChannelCleanup(t *testing.T) {
	tr := NewTracker()
	u := &models.User{ID: 9}

	tr.MarkActive(3, u)
	tr.MarkInactive(3, 9)

	// Internal maps are pruned once empty.
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	assert.NotContains(t, tr.active, uint(3))
	assert.NotContains(t, tr.order, uint(3))
	assert.NotContains(t, tr.channels, uint(9))
}
