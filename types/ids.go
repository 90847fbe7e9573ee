package types

import (
	"sync/atomic"
	"time"
)

var lastID int64

// NewID returns a process-unique id derived from the current time in milliseconds. If the clock did not advance
// since the previous call, the previous id plus one is returned.
func NewID() int64 {
	for {
		prev := atomic.LoadInt64(&lastID)
		next := time.Now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if atomic.CompareAndSwapInt64(&lastID, prev, next) {
			return next
		}
	}
}
