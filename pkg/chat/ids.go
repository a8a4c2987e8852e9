package chat

import (
	"strconv"
	"sync/atomic"
	"time"
)

// IDSequence hands out message ids. It is seeded once with the session start
// time and then only incremented, so ids stay unique and increasing even when
// several events arrive within the same millisecond.
type IDSequence struct {
	last atomic.Int64
}

func NewIDSequence(seed int64) *IDSequence {
	s := &IDSequence{}
	s.last.Store(seed)
	return s
}

// NewSessionIDSequence seeds the sequence with the current wall clock in
// milliseconds.
func NewSessionIDSequence() *IDSequence {
	return NewIDSequence(time.Now().UnixMilli())
}

func (s *IDSequence) Next() string {
	return strconv.FormatInt(s.last.Add(1), 10)
}

// Observe moves the sequence past an id loaded from storage so replayed logs
// never collide with ids minted in this session.
func (s *IDSequence) Observe(id string) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return
	}
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
