// Package ids generates time-ordered message identifiers.
package ids

import (
	"fmt"
	"sync"
	"time"
)

const (
	timestampBits = 42
	workerBits    = 10
	sequenceBits  = 64 - timestampBits - workerBits // 12

	timestampShift = 64 - timestampBits
	workerShift    = timestampShift - workerBits

	maxWorker   = 1<<workerBits - 1
	maxSequence = 1<<sequenceBits - 1
)

// Snowflake produces 64-bit ids whose high bits are a millisecond
// timestamp, so ids sort by creation time. Safe for concurrent use.
type Snowflake struct {
	mu       sync.Mutex
	workerID int64
	lastMs   int64
	sequence int64
	now      func() int64
}

// NewSnowflake creates a generator for the given worker id.
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorker {
		return nil, fmt.Errorf("worker id %d out of range [0, %d]", workerID, maxWorker)
	}
	return &Snowflake{
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Next returns the next id. Within one millisecond ids differ by a
// monotonically increasing sequence; an exhausted sequence waits for
// the next millisecond instead of failing.
func (s *Snowflake) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now()
	if ms == s.lastMs {
		s.sequence++
		if s.sequence > maxSequence {
			for ms <= s.lastMs {
				ms = s.now()
			}
			s.sequence = 0
		}
	} else {
		s.sequence = 0
	}
	s.lastMs = ms

	return ms<<timestampShift | s.workerID<<workerShift | s.sequence
}

// Timestamp extracts the creation time encoded in an id.
func Timestamp(id int64) time.Time {
	return time.UnixMilli(id >> timestampShift)
}
