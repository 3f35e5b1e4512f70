package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
	"github.com/ykvlv/companion-bot/internal/scheduler"
)

// Job id prefixes. Each kind owns its prefix, and a reconcile pass only touches
// jobs under its own.
const (
	PrefixReminder   = "reminder_"
	PrefixTodo       = "todo_"
	PrefixSleepCheck = "sleep_check_"
	PrefixRandomChat = "random_chat_slot_"

	JobRandomChatReset = "random_chat_reset"
	JobPeriodicReload  = "periodic_reload"
)

// firedMemory is how long a reminder's last firing instant is remembered to stop a
// reconcile pass from re-installing it at the instant it just fired.
const firedMemory = 24 * time.Hour

func (s *Service) reconcileAll(ctx context.Context) {
	s.reconcileReminders()
	s.reconcileDigests()
	s.reconcileSleepChecks()
	s.planRandomChat(ctx)
	s.ensureFixedJobs()
}

// reconcileReminders rebuilds every reminder_ job from the in-memory reminders.
// Running it twice in a row yields the same table.
func (s *Service) reconcileReminders() {
	s.remindersRec.Lock()
	defer s.remindersRec.Unlock()

	now := s.clock.Now()
	loc := s.clock.Location()

	s.mu.Lock()
	rems := make([]domain.Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		rems = append(rems, r)
	}
	fired := make(map[string]time.Time, len(s.fired))
	for id, at := range s.fired {
		if _, ok := s.reminders[id]; !ok || now.Sub(at) > firedMemory {
			delete(s.fired, id)
			continue
		}
		fired[id] = at
	}
	s.mu.Unlock()

	s.jobs.RemoveByPrefix(PrefixReminder)
	installed := 0
	for _, r := range rems {
		at, err := domain.ResolveAnnual(r.Date, r.Time, now, loc)
		if f, ok := fired[r.ID]; ok && err == nil && !at.After(f) {
			at, err = domain.ResolveAnnual(r.Date, r.Time, f.Add(time.Second), loc)
		}
		if err != nil {
			s.log.Warn("reminder skipped, date does not resolve",
				zap.String("id", r.ID), zap.Stringer("date", r.Date), zap.Error(err))
			continue
		}
		id := r.ID
		err = s.jobs.Upsert(PrefixReminder+id, scheduler.At(at), func(ctx context.Context) error {
			return s.fireReminder(ctx, id)
		})
		if err != nil {
			s.log.Warn("reminder job rejected", zap.String("id", id), zap.Error(err))
			continue
		}
		installed++
	}
	s.log.Debug("reminders reconciled", zap.Int("installed", installed), zap.Int("total", len(rems)))
}

func (s *Service) reconcileDigests() {
	s.digestsRec.Lock()
	defer s.digestsRec.Unlock()

	s.mu.RLock()
	digests := make([]domain.DailyDigest, 0, len(s.digests))
	for _, d := range s.digests {
		digests = append(digests, d)
	}
	s.mu.RUnlock()

	s.jobs.RemoveByPrefix(PrefixTodo)
	for _, d := range digests {
		s.installDigest(d.Owner, d.Time)
	}
}

func (s *Service) installDigest(owner string, tod domain.TimeOfDay) {
	err := s.jobs.Upsert(PrefixTodo+owner, scheduler.Daily(tod.Hour, tod.Minute, s.clock.Location()), func(ctx context.Context) error {
		return s.fireDigest(ctx, owner)
	})
	if err != nil {
		s.log.Warn("digest job rejected", zap.String("owner", owner), zap.Error(err))
	}
}

func (s *Service) reconcileSleepChecks() {
	s.sleepsRec.Lock()
	defer s.sleepsRec.Unlock()

	s.mu.RLock()
	checks := make([]domain.SleepCheck, 0, len(s.sleeps))
	for _, c := range s.sleeps {
		checks = append(checks, c)
	}
	s.mu.RUnlock()

	s.jobs.RemoveByPrefix(PrefixSleepCheck)
	for _, c := range checks {
		s.installSleepCheck(c.Owner, c.Time)
	}
}

func (s *Service) installSleepCheck(owner string, tod domain.TimeOfDay) {
	err := s.jobs.Upsert(PrefixSleepCheck+owner, scheduler.Daily(tod.Hour, tod.Minute, s.clock.Location()), func(ctx context.Context) error {
		return s.fireSleepCheck(ctx, owner)
	})
	if err != nil {
		s.log.Warn("sleep check job rejected", zap.String("owner", owner), zap.Error(err))
	}
}

// ensureFixedJobs installs the periodic reload and the random-chat reset once. They
// keep their schedule across reconcile passes.
func (s *Service) ensureFixedJobs() {
	if _, ok := s.jobs.Get(JobPeriodicReload); !ok {
		err := s.jobs.Upsert(JobPeriodicReload, scheduler.Every(s.opts.ReloadInterval), func(ctx context.Context) error {
			return s.Resync(ctx)
		})
		if err != nil {
			s.log.Error("periodic reload not installed", zap.Error(err))
		}
	}
	if len(s.opts.Slots) == 0 {
		return
	}
	if _, ok := s.jobs.Get(JobRandomChatReset); !ok {
		reset := s.opts.ResetTime
		err := s.jobs.Upsert(JobRandomChatReset, scheduler.Daily(reset.Hour, reset.Minute, s.clock.Location()), func(ctx context.Context) error {
			return s.resetRandomChat(ctx)
		})
		if err != nil {
			s.log.Error("random chat reset not installed", zap.Error(err))
		}
	}
}
