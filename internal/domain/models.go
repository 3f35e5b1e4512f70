package domain

import (
	"sort"
	"time"
)

// DefaultDigestTime is used when an owner adds a todo before choosing a time.
var DefaultDigestTime = TimeOfDay{Hour: 8, Minute: 0}

// Reminder is a message delivered to Owner at Date/Time, optionally every year.
type Reminder struct {
	ID        string
	Owner     string
	Date      MonthDay
	Time      TimeOfDay
	Message   string
	Repeat    bool
	CreatedAt time.Time
}

// ContentKey identifies reminders that are duplicates of each other by content.
func (r Reminder) ContentKey() string {
	rep := "0"
	if r.Repeat {
		rep = "1"
	}
	return r.Owner + "\x00" + r.Date.String() + "\x00" + r.Time.String() + "\x00" + r.Message + "\x00" + rep
}

// DailyDigest holds an owner's todo list and the time it is sent every day.
type DailyDigest struct {
	Owner string
	Todos []string
	Time  TimeOfDay
}

// SleepCheck probes an owner's presence every day at Time.
// PresenceID is the account watched in the reference group.
type SleepCheck struct {
	Owner      string
	Time       TimeOfDay
	PresenceID string
}

// PlanMarker records a randomly drawn fire time so a restart replays it.
type PlanMarker struct {
	PlanID  string
	RunTime time.Time
}

// ChatSlot is a named daily window in which one random chat may be sent.
type ChatSlot struct {
	Name  string
	FromM int
	ToM   int
}

// Presence is the live status of a user in the reference group.
type Presence string

const (
	PresenceOnline       Presence = "online"
	PresenceIdle         Presence = "idle"
	PresenceDoNotDisturb Presence = "dnd"
	PresenceOffline      Presence = "offline"
	PresenceUnknown      Presence = "unknown"
)

// SortReminders orders reminders the way they are shown to users:
// by date, then time, then id.
func SortReminders(rs []Reminder) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Date != b.Date {
			if a.Date.Month != b.Date.Month {
				return a.Date.Month < b.Date.Month
			}
			return a.Date.Day < b.Date.Day
		}
		if a.Time != b.Time {
			return a.Time.Minutes() < b.Time.Minutes()
		}
		return a.ID < b.ID
	})
}
