// Package schedule assigns publish times to batches of (file, account)
// pairs.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cadence describes timed publishing. A disabled cadence means publish
// immediately.
type Cadence struct {
	Enabled   bool     `json:"enabled"`
	PerDay    int      `json:"per_day"`
	Slots     []string `json:"slots,omitempty"` // "HH:MM"
	StartDays int      `json:"start_days"`
}

// DefaultSlots are the publish times used when none are configured.
var DefaultSlots = []string{"06:00", "11:00", "14:00", "16:00", "22:00"}

// Calculator is deterministic: the same pairs, cadence and now always
// yield the same times.
type Calculator struct {
	defaultSlots []string
}

// NewCalculator uses defaultSlots when a cadence carries no slots.
func NewCalculator(defaultSlots []string) *Calculator {
	return &Calculator{defaultSlots: append([]string(nil), defaultSlots...)}
}

type slot struct{ hour, minute int }

// Calculate returns one entry per pair, in pair order. Immediate mode
// yields nil for every pair. In timed mode pair i is placed on day
// StartDays + i/PerDay after now's calendar day, at slot (i%PerDay) of the
// slot list, wrapping when there are fewer slots than PerDay.
func (c *Calculator) Calculate(n int, cadence Cadence, now time.Time) ([]*time.Time, error) {
	out := make([]*time.Time, n)
	if !cadence.Enabled {
		return out, nil
	}

	if cadence.PerDay < 1 {
		return nil, fmt.Errorf("per_day must be at least 1, got %d", cadence.PerDay)
	}
	if cadence.StartDays < 0 {
		return nil, fmt.Errorf("start_days must not be negative, got %d", cadence.StartDays)
	}

	raw := cadence.Slots
	if len(raw) == 0 {
		raw = c.defaultSlots
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no publish slots configured")
	}

	slots := make([]slot, 0, len(raw))
	for _, s := range raw {
		parsed, err := parseSlot(s)
		if err != nil {
			return nil, err
		}
		slots = append(slots, parsed)
	}

	year, month, day := now.Date()
	for i := 0; i < n; i++ {
		offset := cadence.StartDays + i/cadence.PerDay
		sl := slots[(i%cadence.PerDay)%len(slots)]
		at := time.Date(year, month, day+offset, sl.hour, sl.minute, 0, 0, now.Location())
		out[i] = &at
	}

	return out, nil
}

func parseSlot(s string) (slot, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return slot{}, fmt.Errorf("invalid slot %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return slot{}, fmt.Errorf("invalid slot %q: bad hour", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return slot{}, fmt.Errorf("invalid slot %q: bad minute", s)
	}
	return slot{hour: hour, minute: minute}, nil
}
