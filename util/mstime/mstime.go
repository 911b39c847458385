// Package mstime converts between time.Time and the millisecond timestamps
// carried by units.
package mstime

import "time"

// Now returns the current time truncated to millisecond precision.
func Now() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

// NowMilli returns the current unix time in milliseconds.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}

// UnixMilliToTime converts unix milliseconds to a time.Time.
func UnixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// AgeMilli returns how long ago the unix millisecond timestamp was.
// Timestamps in the future yield a negative duration.
func AgeMilli(nowMilli, ms int64) time.Duration {
	return time.Duration(nowMilli-ms) * time.Millisecond
}
