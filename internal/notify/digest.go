package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
)

// AddTodo appends text to owner's list. An owner without a digest gets one at
// DefaultDigestTime.
func (s *Service) AddTodo(ctx context.Context, owner, text string) (domain.DailyDigest, error) {
	if text == "" {
		return domain.DailyDigest{}, &domain.ValidationError{Field: "todo", Reason: "empty"}
	}
	return s.updateDigest(ctx, owner, func(d *domain.DailyDigest) error {
		d.Todos = append(d.Todos, text)
		return nil
	})
}

// RemoveTodoAt deletes the todo at 1-based position pos and returns its text.
func (s *Service) RemoveTodoAt(ctx context.Context, owner string, pos int) (string, error) {
	var removed string
	_, err := s.updateDigest(ctx, owner, func(d *domain.DailyDigest) error {
		if pos < 1 || pos > len(d.Todos) {
			return fmt.Errorf("todo #%d: %w", pos, domain.ErrNotFound)
		}
		removed = d.Todos[pos-1]
		d.Todos = append(d.Todos[:pos-1:pos-1], d.Todos[pos:]...)
		return nil
	})
	return removed, err
}

// SetDigestTime redefines when owner's digest is sent.
func (s *Service) SetDigestTime(ctx context.Context, owner string, tod domain.TimeOfDay) (domain.DailyDigest, error) {
	return s.updateDigest(ctx, owner, func(d *domain.DailyDigest) error {
		d.Time = tod
		return nil
	})
}

// Todos returns a copy of owner's todo list.
func (s *Service) Todos(owner string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.digests[owner]
	if !ok {
		return nil
	}
	return append([]string(nil), d.Todos...)
}

// Digest returns owner's digest configuration.
func (s *Service) Digest(owner string) (domain.DailyDigest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.digests[owner]
	d.Todos = append([]string(nil), d.Todos...)
	return d, ok
}

// updateDigest applies mutate to owner's digest, persists it and redefines the
// owner's todo_ job. mutate failing leaves everything untouched.
func (s *Service) updateDigest(ctx context.Context, owner string, mutate func(*domain.DailyDigest) error) (domain.DailyDigest, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	d, ok := s.digests[owner]
	if !ok {
		d = domain.DailyDigest{Owner: owner, Time: domain.DefaultDigestTime}
	}
	d.Todos = append([]string(nil), d.Todos...)
	if err := mutate(&d); err != nil {
		s.mu.Unlock()
		return domain.DailyDigest{}, err
	}
	s.digests[owner] = d
	s.mu.Unlock()

	var perr error
	if err := s.repo.SaveDigest(ctx, d); err != nil {
		perr = s.persistFailed(err, zap.String("owner", owner))
	}

	s.digestsRec.Lock()
	s.installDigest(owner, d.Time)
	s.digestsRec.Unlock()
	return d, perr
}

// fireDigest sends the owner's todo list. An empty list sends nothing.
func (s *Service) fireDigest(ctx context.Context, owner string) error {
	todos := s.Todos(owner)
	if len(todos) == 0 {
		s.log.Debug("digest empty, nothing sent", zap.String("owner", owner))
		return nil
	}
	return s.deliver(ctx, owner, digestText(todos))
}
