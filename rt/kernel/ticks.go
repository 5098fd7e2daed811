package kernel

import "time"

// ticksFor converts d to ticks at rate hz, rounding up. Non-positive durations are zero ticks.
func ticksFor(d time.Duration, hz uint32) Ticks {
	if d <= 0 || hz == 0 {
		return 0
	}
	period := time.Second / time.Duration(hz)
	if period <= 0 {
		period = 1
	}
	n := (d + period - 1) / period
	if n > time.Duration(^uint32(0)) {
		return Ticks(^uint32(0))
	}
	return Ticks(n)
}

// durationFor is the inverse of ticksFor.
func durationFor(n Ticks, hz uint32) time.Duration {
	if hz == 0 {
		return 0
	}
	return time.Duration(n) * (time.Second / time.Duration(hz))
}
