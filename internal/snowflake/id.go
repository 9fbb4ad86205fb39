// Package snowflake provides time ordered 64 bit identifiers for items
// and annotations.
package snowflake

import (
	"math/rand"
	"strconv"
	"time"
)

// ID is a time ordered identifier. The upper 48 bits hold the creation
// time in milliseconds, the lower 16 bits are random.
type ID uint64

// Now returns a new ID for the current time.
func Now() ID {
	return TimeToID(time.Now())
}

// TimeToID converts a time.Time to a Snowflake ID.
func TimeToID(ts time.Time) ID {
	// 48 bits for time in milliseconds.
	// 0 bits for worker ID.
	// 0 bits for sequence.
	// 16 bits for random.
	return ID(uint64(ts.UnixNano()/int64(time.Millisecond))<<16 | uint64(rand.Intn(1<<16)))
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Parse parses the decimal form of an ID.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return ID(v), err
}
