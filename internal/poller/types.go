// internal/poller/types.go
package poller

import "time"

// Sample is the result of one poll.
type Sample struct {
	At time.Time

	Inputs []bool
	Frame  string // encoded board frame, empty on failure

	Err error // non-nil means the read failed
}
