package internal

import "math"

// EffectiveConcurrency is the number of tasks allowed to run at once: the
// requested value clamped to the number of slots, every slot when requested
// is zero or less. Each running task holds one slot exclusively.
func EffectiveConcurrency(requested, slots int) int {
	if requested <= 0 {
		return slots
	}
	return int(math.Min(float64(requested), float64(slots)))
}

// IdleSlots is the number of slots no permit can ever use.
func IdleSlots(concurrency, slots int) int {
	return int(math.Max(0, float64(slots-concurrency)))
}
