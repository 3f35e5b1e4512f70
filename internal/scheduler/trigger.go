package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/ykvlv/companion-bot/internal/domain"
)

// ErrBadTrigger is returned by Upsert for triggers that can never fire.
var ErrBadTrigger = errors.New("bad trigger")

// Trigger decides when a job fires.
type Trigger interface {
	// First returns the first fire time for a job installed at now.
	First(now time.Time) (time.Time, error)
	// Next returns the fire time after a firing observed at now; false ends the job.
	Next(now time.Time) (time.Time, bool)
	String() string
}

// At fires once at t. A t already in the past fires on the next dispatch.
func At(t time.Time) Trigger { return oneShot{at: t} }

type oneShot struct{ at time.Time }

func (o oneShot) First(time.Time) (time.Time, error) {
	if o.at.IsZero() {
		return time.Time{}, fmt.Errorf("%w: zero instant", ErrBadTrigger)
	}
	return o.at, nil
}

func (o oneShot) Next(time.Time) (time.Time, bool) { return time.Time{}, false }
func (o oneShot) String() string                     { return "date[" + o.at.Format(time.RFC3339) + "]" }

// Daily fires every day at hour:minute in loc.
func Daily(hour, minute int, loc *time.Location) Trigger {
	return daily{hour: hour, minute: minute, loc: loc}
}

type daily struct {
	hour, minute int
	loc          *time.Location
}

func (d daily) tod() (domain.TimeOfDay, error) {
	tod, err := domain.NewTimeOfDay(d.hour, d.minute)
	if err != nil {
		return tod, fmt.Errorf("%w: %v", ErrBadTrigger, err)
	}
	if d.loc == nil {
		return tod, fmt.Errorf("%w: nil location", ErrBadTrigger)
	}
	return tod, nil
}

func (d daily) First(now time.Time) (time.Time, error) {
	tod, err := d.tod()
	if err != nil {
		return time.Time{}, err
	}
	return domain.NextDaily(tod, now, d.loc), nil
}

func (d daily) Next(now time.Time) (time.Time, bool) {
	t, err := d.First(now)
	return t, err == nil
}

func (d daily) String() string {
	if d.loc == nil {
		return fmt.Sprintf("cron[%02d:%02d]", d.hour, d.minute)
	}
	return fmt.Sprintf("cron[%02d:%02d %s]", d.hour, d.minute, d.loc)
}

// Every fires at a fixed interval, starting one interval after installation.
func Every(d time.Duration) Trigger { return interval{d: d} }

type interval struct{ d time.Duration }

func (i interval) First(now time.Time) (time.Time, error) {
	if i.d <= 0 {
		return time.Time{}, fmt.Errorf("%w: interval %s", ErrBadTrigger, i.d)
	}
	return now.Add(i.d), nil
}

func (i interval) Next(now time.Time) (time.Time, bool) {
	if i.d <= 0 {
		return time.Time{}, false
	}
	return now.Add(i.d), true
}

func (i interval) String() string { return "interval[" + i.d.String() + "]" }
