package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
)

const persistTimeout = 10 * time.Second

// AddReminder stores a new reminder and schedules it. The reminder is returned even
// when the store write fails; the error then wraps ErrNotPersisted.
func (s *Service) AddReminder(ctx context.Context, owner string, md domain.MonthDay, tod domain.TimeOfDay, msg string, repeat bool) (domain.Reminder, error) {
	if msg == "" {
		return domain.Reminder{}, &domain.ValidationError{Field: "message", Reason: "empty"}
	}
	r := domain.Reminder{
		ID:        uuid.NewString(),
		Owner:     owner,
		Date:      md,
		Time:      tod,
		Message:   msg,
		Repeat:    repeat,
		CreatedAt: s.clock.Now(),
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.reminders[r.ID] = r
	s.mu.Unlock()

	var perr error
	if err := s.repo.SaveReminder(ctx, r); err != nil {
		perr = s.persistFailed(err, zap.String("reminder_id", r.ID))
	}
	s.reconcileReminders()
	s.log.Info("reminder added", zap.String("owner", owner), zap.String("id", r.ID),
		zap.Stringer("date", md), zap.Stringer("time", tod), zap.Bool("repeat", repeat))
	return r, perr
}

// AddReminderIn schedules a one-off reminder offset from now, rounded down to the
// minute. It returns the reminder and the instant it fires.
func (s *Service) AddReminderIn(ctx context.Context, owner string, offset time.Duration, msg string) (domain.Reminder, time.Time, error) {
	at := s.clock.Now().Add(offset).In(s.clock.Location()).Truncate(time.Minute)
	md := domain.MonthDay{Month: at.Month(), Day: at.Day()}
	tod := domain.TimeOfDay{Hour: at.Hour(), Minute: at.Minute()}
	r, err := s.AddReminder(ctx, owner, md, tod, msg, false)
	return r, at, err
}

// Reminders returns owner's reminders sorted by date, then time.
func (s *Service) Reminders(owner string) []domain.Reminder {
	s.mu.RLock()
	res := make([]domain.Reminder, 0)
	for _, r := range s.reminders {
		if r.Owner == owner {
			res = append(res, r)
		}
	}
	s.mu.RUnlock()
	domain.SortReminders(res)
	return res
}

// NextFire returns when the reminder's job is due, if it is scheduled.
func (s *Service) NextFire(id string) (time.Time, bool) {
	j, ok := s.jobs.Get(PrefixReminder + id)
	return j.NextRun, ok
}

// RemoveReminderAt deletes the reminder at 1-based position pos of owner's sorted
// list. The position is mapped to a stable id before anything is deleted.
func (s *Service) RemoveReminderAt(ctx context.Context, owner string, pos int) (domain.Reminder, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	list := s.Reminders(owner)
	if pos < 1 || pos > len(list) {
		return domain.Reminder{}, fmt.Errorf("reminder #%d: %w", pos, domain.ErrNotFound)
	}
	r := list[pos-1]

	s.mu.Lock()
	delete(s.reminders, r.ID)
	s.mu.Unlock()

	var perr error
	if err := s.repo.DeleteReminder(ctx, r.ID); err != nil {
		perr = s.persistFailed(err, zap.String("reminder_id", r.ID))
	}
	s.reconcileReminders()
	s.log.Info("reminder removed", zap.String("owner", owner), zap.String("id", r.ID))
	return r, perr
}

// fireReminder delivers a due reminder and applies its lifecycle: repeating
// reminders move forward a year, the rest are deleted. The transition happens even
// when delivery fails, and is written under its own deadline.
func (s *Service) fireReminder(ctx context.Context, id string) error {
	now := s.clock.Now()

	s.mu.Lock()
	r, ok := s.reminders[id]
	if ok {
		s.fired[id] = now
	}
	s.mu.Unlock()
	if !ok {
		s.log.Debug("reminder gone before firing", zap.String("id", id))
		return nil
	}

	sendErr := s.deliver(ctx, r.Owner, reminderText(r))

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cur, ok := s.reminders[id]
	s.mu.RUnlock()
	if !ok {
		return sendErr
	}

	var perr error
	if cur.Repeat {
		perr = s.advanceFired(pctx, cur, now)
	} else {
		s.mu.Lock()
		delete(s.reminders, id)
		s.mu.Unlock()
		if err := s.repo.DeleteReminder(pctx, id); err != nil {
			perr = s.persistFailed(err, zap.String("reminder_id", id))
		}
	}
	s.reconcileReminders()

	if perr != nil {
		return perr
	}
	return sendErr
}

// advanceFired moves a fired repeating reminder to next year's date. A reminder
// another process already deleted from the store (dedupe, manual cleanup) is
// dropped from memory instead of being written back.
func (s *Service) advanceFired(ctx context.Context, cur domain.Reminder, now time.Time) error {
	stored, err := s.repo.HasReminder(ctx, cur.ID)
	switch {
	case err != nil:
		s.log.Warn("reminder existence check failed", zap.String("id", cur.ID), zap.Error(err))
	case !stored:
		s.mu.Lock()
		delete(s.reminders, cur.ID)
		s.mu.Unlock()
		s.log.Info("fired reminder no longer stored, dropped", zap.String("id", cur.ID))
		return nil
	}

	md, err := domain.AdvanceAnnual(cur.Date, now, s.clock.Location())
	if err != nil {
		return fmt.Errorf("advance reminder %s: %w", cur.ID, err)
	}
	cur.Date = md
	s.mu.Lock()
	s.reminders[cur.ID] = cur
	s.mu.Unlock()
	s.log.Info("repeating reminder advanced", zap.String("id", cur.ID), zap.Stringer("date", md))
	if err := s.repo.SaveReminder(ctx, cur); err != nil {
		return s.persistFailed(err, zap.String("reminder_id", cur.ID))
	}
	return nil
}

// DedupeReminders collapses reminders with identical content into one. The oldest
// by creation time survives; ties go to the smaller id. It works from the store's
// contents, then reloads memory and rebuilds the reminder jobs.
func (s *Service) DedupeReminders(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	all, err := s.repo.LoadReminders(ctx)
	if err != nil {
		return 0, err
	}
	groups := make(map[string][]domain.Reminder)
	for _, r := range all {
		k := r.ContentKey()
		groups[k] = append(groups[k], r)
	}

	removed := 0
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		sort.Slice(g, func(i, j int) bool {
			if !g[i].CreatedAt.Equal(g[j].CreatedAt) {
				return g[i].CreatedAt.Before(g[j].CreatedAt)
			}
			return g[i].ID < g[j].ID
		})
		for _, dup := range g[1:] {
			if err := s.repo.DeleteReminder(ctx, dup.ID); err != nil {
				return removed, err
			}
			removed++
			s.log.Info("duplicate reminder deleted", zap.String("id", dup.ID), zap.String("kept", g[0].ID))
		}
	}

	fresh, err := s.repo.LoadReminders(ctx)
	if err != nil {
		return removed, err
	}
	s.mu.Lock()
	s.reminders = make(map[string]domain.Reminder, len(fresh))
	for _, r := range fresh {
		s.reminders[r.ID] = r
	}
	s.mu.Unlock()
	s.reconcileReminders()
	return removed, nil
}

func reminderText(r domain.Reminder) string {
	return fmt.Sprintf(reminderFormat, r.Message)
}
