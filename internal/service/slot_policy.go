package service

import "time"

// SlotPolicy maps the moment an order is composed to a pickup window.
type SlotPolicy struct {
	cutoffHour int
	morning    string
	evening    string
	loc        *time.Location
}

func NewSlotPolicy(cutoffHour int, morning, evening string, loc *time.Location) SlotPolicy {
	if loc == nil {
		loc = time.Local
	}
	return SlotPolicy{cutoffHour: cutoffHour, morning: morning, evening: evening, loc: loc}
}

// Assign returns the morning window strictly before the cutoff hour, the evening one otherwise.
func (p SlotPolicy) Assign(now time.Time) string {
	if now.In(p.loc).Hour() < p.cutoffHour {
		return p.morning
	}
	return p.evening
}

func (p SlotPolicy) Location() *time.Location {
	return p.loc
}
