package core

import "time"

// SlotState tracks how an installment due date came to be.
type SlotState int

const (
	SlotUnset SlotState = iota
	SlotComputed
	SlotEdited
)

// InstallmentSlot is one due date in the schedule, index-aligned with the
// parsed payment-term offsets.
type InstallmentSlot struct {
	State SlotState
	Date  time.Time
}

// Set reports whether the slot carries a date.
func (s InstallmentSlot) Set() bool { return s.State != SlotUnset }

// InstallmentSchedule is the ordered list of due dates for a draft.
type InstallmentSchedule []InstallmentSlot

// Complete reports whether the schedule is non-empty and every slot is set.
func (s InstallmentSchedule) Complete() bool {
	if len(s) == 0 {
		return false
	}
	for _, slot := range s {
		if !slot.Set() {
			return false
		}
	}
	return true
}

// SetDate overwrites one slot with a user-supplied date and marks it EDITED.
// Other slots are untouched. Out-of-range indexes are ignored.
func (s InstallmentSchedule) SetDate(i int, date time.Time) {
	if i < 0 || i >= len(s) {
		return
	}
	s[i] = InstallmentSlot{State: SlotEdited, Date: date}
}

func (s InstallmentSchedule) clone() InstallmentSchedule {
	out := make(InstallmentSchedule, len(s))
	copy(out, s)
	return out
}

func (s InstallmentSchedule) anySet() bool {
	for _, slot := range s {
		if slot.Set() {
			return true
		}
	}
	return false
}

// ScheduleInputs is the previous-inputs snapshot the recompute trigger
// compares against. Keeping it explicit makes the recompute rule testable
// without any UI change-tracking machinery.
type ScheduleInputs struct {
	EmissionDate time.Time
	Offsets      []int
}

func offsetsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// offsetsPrefixCompatible reports whether the shorter slice is a prefix of
// the longer one, i.e. only the installment count changed.
func offsetsPrefixCompatible(a, b []int) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ComputeAll derives every due date from the emission date and the parsed
// offsets: dates[i] = emission + offsets[i] days.
func ComputeAll(emission time.Time, offsets []int) InstallmentSchedule {
	out := make(InstallmentSchedule, len(offsets))
	for i, d := range offsets {
		out[i] = InstallmentSlot{State: SlotComputed, Date: emission.AddDate(0, 0, d)}
	}
	return out
}

// RescheduleOnEmissionChange shifts every already-set slot by the same
// offset it had from the previous emission date, preserving user edits in
// spirit: an EDITED slot keeps its distance from emission, not its absolute
// date. Unset slots are computed directly from the offsets.
func RescheduleOnEmissionChange(prevEmission, newEmission time.Time, offsets []int, prev InstallmentSchedule) InstallmentSchedule {
	out := make(InstallmentSchedule, len(prev))
	for i, slot := range prev {
		if slot.Set() {
			delta := slot.Date.Sub(prevEmission)
			out[i] = InstallmentSlot{State: slot.State, Date: newEmission.Add(delta)}
			continue
		}
		if i < len(offsets) {
			out[i] = InstallmentSlot{State: SlotComputed, Date: newEmission.AddDate(0, 0, offsets[i])}
		}
	}
	return out
}

// NextSchedule applies the explicit recompute trigger:
//
//   - first run, or offsets that changed beyond their count -> ComputeAll
//   - count-only change -> truncate, or append freshly computed slots,
//     leaving existing slots untouched
//   - emission-date-only change with existing dates -> reschedule, keeping
//     each set slot's distance from emission
//   - no relevant diff -> prior schedule returned unchanged
func NextSchedule(prev ScheduleInputs, prevSched InstallmentSchedule, next ScheduleInputs) InstallmentSchedule {
	if len(prevSched) == 0 {
		return ComputeAll(next.EmissionDate, next.Offsets)
	}

	if offsetsEqual(prev.Offsets, next.Offsets) {
		if !prev.EmissionDate.Equal(next.EmissionDate) && prevSched.anySet() {
			return RescheduleOnEmissionChange(prev.EmissionDate, next.EmissionDate, next.Offsets, prevSched)
		}
		return prevSched
	}

	if offsetsPrefixCompatible(prev.Offsets, next.Offsets) {
		if len(next.Offsets) < len(prevSched) {
			return prevSched.clone()[:len(next.Offsets)]
		}
		out := prevSched.clone()
		for i := len(out); i < len(next.Offsets); i++ {
			out = append(out, InstallmentSlot{
				State: SlotComputed,
				Date:  next.EmissionDate.AddDate(0, 0, next.Offsets[i]),
			})
		}
		return out
	}

	return ComputeAll(next.EmissionDate, next.Offsets)
}
