package models

import (
	"strconv"
	"sync/atomic"
	"time"
)

var lastTemporaryID atomic.Int64

// NewTemporaryID derives an id from the creation time in milliseconds. Ids
// are strictly increasing within a process even when two entries share a
// millisecond.
func NewTemporaryID(now time.Time) string {
	ms := now.UnixMilli()
	for {
		prev := lastTemporaryID.Load()
		next := ms
		if next <= prev {
			next = prev + 1
		}
		if lastTemporaryID.CompareAndSwap(prev, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

// IsTemporaryID reports whether id belongs to the offline id space. Remote
// ids are UUIDs and always contain letters or dashes.
func IsTemporaryID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
