package dispatcher

import "context"

// slotPool hands out each slot to one holder at a time.
type slotPool struct {
	available chan Slot
}

func newSlotPool(slots []Slot) *slotPool {
	pool := &slotPool{available: make(chan Slot, len(slots))}
	for _, slot := range slots {
		pool.available <- slot
	}
	return pool
}

// acquire blocks until a slot is free or ctx is done.
func (p *slotPool) acquire(ctx context.Context) (Slot, error) {
	select {
	case slot := <-p.available:
		return slot, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// release must only be given slots obtained from acquire.
func (p *slotPool) release(slot Slot) {
	p.available <- slot
}

func (p *slotPool) len() int {
	return len(p.available)
}
