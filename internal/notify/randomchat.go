package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
	"github.com/ykvlv/companion-bot/internal/scheduler"
)

// EnableRandomChat adds owner to the set that may receive random chats.
func (s *Service) EnableRandomChat(ctx context.Context, owner string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.targets[owner] = struct{}{}
	s.mu.Unlock()

	if err := s.repo.AddChatTarget(ctx, owner); err != nil {
		return s.persistFailed(err, zap.String("owner", owner))
	}
	return nil
}

// DisableRandomChat removes owner from the set.
func (s *Service) DisableRandomChat(ctx context.Context, owner string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.targets, owner)
	s.mu.Unlock()

	if err := s.repo.RemoveChatTarget(ctx, owner); err != nil {
		return s.persistFailed(err, zap.String("owner", owner))
	}
	return nil
}

// ChatTargets returns the opted-in owners in sorted order.
func (s *Service) ChatTargets() []string {
	s.mu.RLock()
	res := make([]string, 0, len(s.targets))
	for o := range s.targets {
		res = append(res, o)
	}
	s.mu.RUnlock()
	sort.Strings(res)
	return res
}

// planRandomChat makes sure every slot has its job for the current plan. A slot
// with a live job is left alone. Otherwise a stored marker is replayed; a new
// instant is drawn and stored only when there is no marker from today.
func (s *Service) planRandomChat(ctx context.Context) {
	s.chatRec.Lock()
	defer s.chatRec.Unlock()

	now := s.clock.Now()
	loc := s.clock.Location()
	for _, slot := range s.opts.Slots {
		jobID := PrefixRandomChat + slot.Name
		if _, ok := s.jobs.Get(jobID); ok {
			continue
		}

		m, err := s.repo.LoadPlanMarker(ctx, slot.Name)
		switch {
		case err == nil && m.RunTime.After(now):
			s.installRandomChat(slot, m)
			continue
		case err == nil && domain.SameDay(m.RunTime, now, loc):
			s.log.Debug("random chat already done today", zap.String("slot", slot.Name), zap.Time("run_time", m.RunTime))
			continue
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			// Redrawing here could hand out a second time for today.
			s.log.Error("plan marker unreadable, slot not planned", zap.String("slot", slot.Name), zap.Error(err))
			continue
		}

		s.randMu.Lock()
		at := domain.DrawInWindow(s.opts.Rand, slot, now, loc)
		s.randMu.Unlock()

		m = domain.PlanMarker{PlanID: slot.Name, RunTime: at}
		if err := s.repo.SavePlanMarker(ctx, m); err != nil {
			_ = s.persistFailed(err, zap.String("slot", slot.Name))
		}
		s.log.Info("random chat planned", zap.String("slot", slot.Name), zap.Time("run_time", at))
		s.installRandomChat(slot, m)
	}
}

func (s *Service) installRandomChat(slot domain.ChatSlot, m domain.PlanMarker) {
	name := slot.Name
	err := s.jobs.Upsert(PrefixRandomChat+name, scheduler.At(m.RunTime), func(ctx context.Context) error {
		return s.fireRandomChat(ctx, name)
	})
	if err != nil {
		s.log.Warn("random chat job rejected", zap.String("slot", name), zap.Error(err))
	}
}

// resetRandomChat drops every slot's marker and job, then plans again so the next
// window gets a fresh draw.
func (s *Service) resetRandomChat(ctx context.Context) error {
	var errs []error
	for _, slot := range s.opts.Slots {
		if err := s.repo.DeletePlanMarker(ctx, slot.Name); err != nil {
			errs = append(errs, err)
		}
		s.jobs.Remove(PrefixRandomChat + slot.Name)
	}
	if err := errors.Join(errs...); err != nil {
		// A surviving marker would be replayed, so no fresh draw happens.
		s.log.Error("random chat reset incomplete", zap.Error(err))
	}
	s.planRandomChat(ctx)
	return nil
}

// fireRandomChat picks one opted-in owner and sends a generated opener.
func (s *Service) fireRandomChat(ctx context.Context, slot string) error {
	targets := s.ChatTargets()
	if len(targets) == 0 {
		s.log.Debug("no random chat targets", zap.String("slot", slot))
		return nil
	}
	s.randMu.Lock()
	owner := targets[s.opts.Rand.IntN(len(targets))]
	s.randMu.Unlock()

	text := randomChatBlank
	if s.completion != nil {
		out, err := s.completion.Generate(ctx, randomChatAsk)
		if err != nil {
			return fmt.Errorf("random chat %s: %w", slot, err)
		}
		if out = strings.TrimSpace(out); out != "" {
			text = out
		}
	}
	s.log.Info("random chat firing", zap.String("slot", slot), zap.String("owner", owner))
	return s.deliver(ctx, owner, text)
}
