// Package timestamp provides Unix millisecond timestamps and a replaceable
// clock for stages that stamp records.
//
// Timestamps are int64 milliseconds since the Unix epoch (UTC). A value of 0
// means "not set".
//
// Usage:
//
//	clock := timestamp.System()
//	suffix := strconv.FormatInt(clock.NowMillis(), 10)
//
//	// in tests
//	clock := timestamp.Fixed(1700000000000)
package timestamp

import (
	"sync/atomic"
	"time"
)

// Clock yields the current time in Unix milliseconds.
type Clock interface {
	NowMillis() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

// NowMillis calls f.
func (f ClockFunc) NowMillis() int64 { return f() }

// System returns the wall clock.
func System() Clock { return ClockFunc(Now) }

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	ms atomic.Int64
}

// Fixed returns a manual clock set to ms.
func Fixed(ms int64) *ManualClock {
	c := &ManualClock{}
	c.ms.Store(ms)
	return c
}

// NowMillis implements Clock.
func (c *ManualClock) NowMillis() int64 { return c.ms.Load() }

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) int64 {
	return c.ms.Add(d.Milliseconds())
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to an RFC3339 string for display.
// Returns empty string if timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Since returns the duration since the given timestamp.
// Returns 0 if timestamp is zero.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(ms))
}
