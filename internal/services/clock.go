package services

import "time"

// Clock supplies the current time. Every timestamp the message service
// writes comes from it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
