package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
)

// SetSleepCheck installs or redefines owner's daily presence probe. presenceID is
// the account watched in the reference group and is required: chat ids and
// presence accounts live in different namespaces.
func (s *Service) SetSleepCheck(ctx context.Context, owner string, tod domain.TimeOfDay, presenceID string) (domain.SleepCheck, error) {
	presenceID = strings.TrimSpace(presenceID)
	if presenceID == "" {
		return domain.SleepCheck{}, &domain.ValidationError{Field: "account id", Reason: "required"}
	}
	sc := domain.SleepCheck{Owner: owner, Time: tod, PresenceID: presenceID}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.sleeps[owner] = sc
	s.mu.Unlock()

	var perr error
	if err := s.repo.SaveSleepCheck(ctx, sc); err != nil {
		perr = s.persistFailed(err, zap.String("owner", owner))
	}

	s.sleepsRec.Lock()
	s.installSleepCheck(owner, tod)
	s.sleepsRec.Unlock()
	return sc, perr
}

// DisableSleepCheck removes owner's probe and its job.
func (s *Service) DisableSleepCheck(ctx context.Context, owner string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	_, ok := s.sleeps[owner]
	delete(s.sleeps, owner)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sleep check for %s: %w", owner, domain.ErrNotFound)
	}

	var perr error
	if err := s.repo.DeleteSleepCheck(ctx, owner); err != nil {
		perr = s.persistFailed(err, zap.String("owner", owner))
	}
	s.reconcileSleepChecks()
	return perr
}

// SleepCheck returns owner's probe configuration.
func (s *Service) SleepCheck(owner string) (domain.SleepCheck, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.sleeps[owner]
	return sc, ok
}

// fireSleepCheck sends a caution only when the watched account is online.
func (s *Service) fireSleepCheck(ctx context.Context, owner string) error {
	sc, ok := s.SleepCheck(owner)
	if !ok {
		return nil
	}
	if s.presence == nil {
		s.log.Debug("no presence source, sleep check skipped", zap.String("owner", owner))
		return nil
	}
	if sc.PresenceID == "" {
		s.log.Warn("sleep check has no account id, skipped", zap.String("owner", owner))
		return nil
	}
	status, err := s.presence.Status(ctx, sc.PresenceID)
	if err != nil {
		return fmt.Errorf("presence of %s: %w", sc.PresenceID, err)
	}
	if status != domain.PresenceOnline {
		s.log.Debug("sleep check quiet", zap.String("owner", owner), zap.String("status", string(status)))
		return nil
	}
	return s.deliver(ctx, owner, sleepCaution)
}
