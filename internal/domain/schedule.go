package domain

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Clock reports the current instant in the service's civil zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// ZoneClock is the wall clock pinned to a fixed zone.
type ZoneClock struct{ Loc *time.Location }

func (c ZoneClock) Now() time.Time            { return time.Now().In(c.Loc) }
func (c ZoneClock) Location() *time.Location { return c.Loc }

// At builds the instant for md/tod in year y. It fails when md does not exist in y
// (Feb 29 outside leap years) instead of silently normalizing to Mar 1.
func At(y int, md MonthDay, tod TimeOfDay, loc *time.Location) (time.Time, error) {
	t := time.Date(y, md.Month, md.Day, tod.Hour, tod.Minute, 0, 0, loc)
	if t.Month() != md.Month || t.Day() != md.Day {
		return time.Time{}, fmt.Errorf("%w: %s in %d", ErrInvalidDate, md, y)
	}
	return t, nil
}

// ResolveAnnual returns the instant md/tod in the reference year, or exactly one year
// later when that instant is strictly before ref.
func ResolveAnnual(md MonthDay, tod TimeOfDay, ref time.Time, loc *time.Location) (time.Time, error) {
	y := ref.In(loc).Year()
	t, err := At(y, md, tod, loc)
	if err != nil {
		return time.Time{}, err
	}
	if t.Before(ref) {
		return At(y+1, md, tod, loc)
	}
	return t, nil
}

// AdvanceAnnual moves a repeating reminder's date forward after it fires: the same
// date in now's year plus 365 days. Across a Feb 29 this lands one day early; the
// drift is deliberate and covered by tests.
func AdvanceAnnual(md MonthDay, now time.Time, loc *time.Location) (MonthDay, error) {
	base, err := At(now.In(loc).Year(), md, TimeOfDay{}, loc)
	if err != nil {
		return MonthDay{}, err
	}
	next := base.AddDate(0, 0, 365)
	return MonthDay{Month: next.Month(), Day: next.Day()}, nil
}

// AdvanceCalendar is the drift-free alternative to AdvanceAnnual: the same month-day
// one calendar year later. Feb 29 falls back to Feb 28 in non-leap years.
func AdvanceCalendar(md MonthDay, now time.Time, loc *time.Location) MonthDay {
	y := now.In(loc).Year() + 1
	if _, err := At(y, md, TimeOfDay{}, loc); err != nil {
		return MonthDay{Month: md.Month, Day: md.Day - 1}
	}
	return md
}

// NextDaily returns the first instant strictly after `after` at tod in loc.
func NextDaily(tod TimeOfDay, after time.Time, loc *time.Location) time.Time {
	l := after.In(loc)
	t := time.Date(l.Year(), l.Month(), l.Day(), tod.Hour, tod.Minute, 0, 0, loc)
	if !t.After(after) {
		t = time.Date(l.Year(), l.Month(), l.Day()+1, tod.Hour, tod.Minute, 0, 0, loc)
	}
	return t
}

// SameDay reports whether a and b fall on the same civil date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DrawInWindow picks a minute-aligned instant inside the slot window that is after now.
// If today's window has already closed, tomorrow's window is used.
func DrawInWindow(r *rand.Rand, slot ChatSlot, now time.Time, loc *time.Location) time.Time {
	l := now.In(loc)
	day := func(offset int) (time.Time, time.Time) {
		from := time.Date(l.Year(), l.Month(), l.Day()+offset, 0, slot.FromM, 0, 0, loc)
		to := time.Date(l.Year(), l.Month(), l.Day()+offset, 0, slot.ToM, 0, 0, loc)
		return from, to
	}

	lo, hi := day(0)
	if !now.Before(lo) {
		lo = time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute()+1, 0, 0, loc)
	}
	if !lo.Before(hi) {
		lo, hi = day(1)
	}
	span := int(hi.Sub(lo) / time.Minute)
	if span <= 0 {
		return lo
	}
	return lo.Add(time.Duration(r.IntN(span)) * time.Minute)
}
