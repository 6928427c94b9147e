package ids

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflake_WorkerRange(t *testing.T) {
	_, err := NewSnowflake(maxWorker + 1)
	assert.Error(t, err)

	_, err = NewSnowflake(-1)
	assert.Error(t, err)

	_, err = NewSnowflake(0)
	assert.NoError(t, err)
}

func TestSnowflake_MonotonicWithinMillisecond(t *testing.T) {
	s, err := NewSnowflake(1)
	require.NoError(t, err)

	// Freeze the clock so every id lands in the same millisecond.
	s.now = func() int64 { return 1700000000000 }

	prev := s.Next()
	for i := 0; i < 100; i++ {
		id := s.Next()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestSnowflake_TimeOrdered(t *testing.T) {
	s, err := NewSnowflake(3)
	require.NoError(t, err)

	ids := make([]int64, 0, 1000)
	for i := 0; i < 1000; i++ {
		ids = append(ids, s.Next())
	}

	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
}

func TestTimestamp_RoundTrip(t *testing.T) {
	s, err := NewSnowflake(7)
	require.NoError(t, err)

	before := time.Now().Add(-time.Second)
	id := s.Next()
	after := time.Now().Add(time.Second)

	ts := Timestamp(id)
	assert.True(t, ts.After(before) && ts.Before(after))
}
