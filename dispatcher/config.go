package dispatcher

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

var ErrNoSlots = errors.New("no slots to dispatch tasks on")

type Config struct {
	// Maximum number of tasks running at once, 0 for one per slot.
	// Values above the number of slots are clamped.
	Concurrency int          `json:"concurrency"`
	Logger      *slog.Logger `json:"-"`
	Metrics     *Metrics     `json:"-"`
	Slots       []Slot       `json:"slots"`
}

func Validate(config Config) error {
	if len(config.Slots) < 1 {
		return ErrNoSlots
	}

	if lo.Contains(config.Slots, "") {
		return fmt.Errorf("slots must not be empty")
	}

	if dups := lo.FindDuplicates(config.Slots); len(dups) > 0 {
		return fmt.Errorf("duplicate slot '%s'", dups[0])
	}

	if config.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}

	return nil
}
