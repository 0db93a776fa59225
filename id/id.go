// Package id defines the job identifier type and its store encoding.
//
// Ids are positive integers handed out by the store's monotonic counter.
// On the wire and in index members they are encoded as 12-digit
// zero-padded decimal strings, so the store's lexicographic member
// ordering agrees with numeric order for the first trillion ids. That
// alignment is what makes ids the insertion-order tiebreak inside a
// priority bucket.
package id

import (
	"fmt"
	"strconv"
)

// JobID is a store-allocated job identifier. The zero value is invalid.
type JobID int64

// pad shifts an id into the 13-digit range; dropping the leading "1"
// leaves a 12-digit zero-padded decimal.
const pad = 1_000_000_000_000

// String encodes the id as a 12-digit zero-padded decimal string.
func (j JobID) String() string {
	return strconv.FormatInt(pad+int64(j), 10)[1:]
}

// Int64 returns the numeric value.
func (j JobID) Int64() int64 { return int64(j) }

// Valid reports whether the id has been allocated.
func (j JobID) Valid() bool { return j > 0 }

// Parse decodes a job id from its decimal string form. Both padded and
// unpadded encodings are accepted.
func Parse(s string) (JobID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kue/id: parse %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("kue/id: non-positive id %q", s)
	}
	return JobID(n), nil
}
