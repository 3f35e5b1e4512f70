// Package notify owns the reminder, daily digest, sleep-check and random-chat
// collections and keeps the job table consistent with them.
//
// Every mutation runs under one write lock as mutate → persist → reconcile, so two
// concurrent commands or firings cannot lose each other's changes. Reconciliation of
// a kind is additionally serialized per kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
	"github.com/ykvlv/companion-bot/internal/persist"
	"github.com/ykvlv/companion-bot/internal/scheduler"
)

var (
	// ErrRecipientUnreachable is returned by a Sender when the user cannot be messaged.
	ErrRecipientUnreachable = errors.New("recipient unreachable")
	// ErrNotPersisted means the change is live in memory but the store write failed.
	ErrNotPersisted = errors.New("change not persisted")
)

// Sender delivers a direct message to an owner.
type Sender interface {
	SendDirect(ctx context.Context, owner, text string) error
}

// PresenceSource reports a user's live status in the reference group.
type PresenceSource interface {
	Status(ctx context.Context, userID string) (domain.Presence, error)
}

// Completion turns a prompt into generated text.
type Completion interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tunes the periodic and random-chat jobs.
type Options struct {
	Slots          []domain.ChatSlot
	ResetTime      domain.TimeOfDay
	ReloadInterval time.Duration
	Rand           *rand.Rand
}

// Service is the single owner of the domain collections.
type Service struct {
	log        *zap.Logger
	clock      domain.Clock
	repo       *persist.Adapter
	jobs       *scheduler.Scheduler
	sender     Sender
	presence   PresenceSource
	completion Completion
	opts       Options

	writeMu sync.Mutex // serializes mutate → persist → reconcile

	mu        sync.RWMutex
	reminders map[string]domain.Reminder
	digests   map[string]domain.DailyDigest
	sleeps    map[string]domain.SleepCheck
	targets   map[string]struct{}
	fired     map[string]time.Time // reminder id → instant it last fired

	remindersRec sync.Mutex
	digestsRec   sync.Mutex
	sleepsRec    sync.Mutex
	chatRec      sync.Mutex

	randMu sync.Mutex
}

// New wires a Service. presence and completion may be nil; the features that need
// them then do nothing.
func New(log *zap.Logger, clock domain.Clock, repo *persist.Adapter, jobs *scheduler.Scheduler,
	sender Sender, presence PresenceSource, completion Completion, opts Options) *Service {
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = time.Hour
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Service{
		log:        log,
		clock:      clock,
		repo:       repo,
		jobs:       jobs,
		sender:     sender,
		presence:   presence,
		completion: completion,
		opts:       opts,
		reminders:  make(map[string]domain.Reminder),
		digests:    make(map[string]domain.DailyDigest),
		sleeps:     make(map[string]domain.SleepCheck),
		targets:    make(map[string]struct{}),
		fired:      make(map[string]time.Time),
	}
}

// Start loads every collection and installs all jobs. A store failure is logged and
// the service starts with whatever it has; the periodic reload retries.
func (s *Service) Start(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.load(ctx); err != nil {
		s.log.Error("initial load failed, starting empty", zap.Error(err))
	}
	s.reconcileAll(ctx)
	s.log.Info("schedule installed", zap.Int("jobs", len(s.jobs.List())))
}

// Resync re-reads every collection from the store and rebuilds all jobs. It runs
// on the periodic reload and when the transport reports a resumed session.
func (s *Service) Resync(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.load(ctx); err != nil {
		// Keep the in-memory state; still make sure the jobs match it.
		s.reconcileAll(ctx)
		return fmt.Errorf("reload: %w", err)
	}
	s.reconcileAll(ctx)
	s.log.Info("reload complete",
		zap.Int("reminders", s.count(func() int { return len(s.reminders) })),
		zap.Int("jobs", len(s.jobs.List())))
	return nil
}

// Jobs lists the job table for diagnostics.
func (s *Service) Jobs() []scheduler.Job {
	return s.jobs.List()
}

// load replaces memory with the store's contents. Either every collection loads or
// memory is left untouched.
func (s *Service) load(ctx context.Context) error {
	rems, err := s.repo.LoadReminders(ctx)
	if err != nil {
		return err
	}
	digests, err := s.repo.LoadDigests(ctx)
	if err != nil {
		return err
	}
	sleeps, err := s.repo.LoadSleepChecks(ctx)
	if err != nil {
		return err
	}
	targets, err := s.repo.LoadChatTargets(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = make(map[string]domain.Reminder, len(rems))
	for _, r := range rems {
		s.reminders[r.ID] = r
	}
	s.digests = digests
	s.sleeps = sleeps
	s.targets = make(map[string]struct{}, len(targets))
	for _, t := range targets {
		s.targets[t] = struct{}{}
	}
	return nil
}

func (s *Service) count(f func() int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return f()
}

// persistFailed logs a store write that failed after memory was already changed.
// The next reload will overwrite memory from the store, so this is a durability gap.
func (s *Service) persistFailed(err error, fields ...zap.Field) error {
	s.log.Error("persist failed, in-memory state ahead of store", append(fields, zap.Error(err))...)
	return fmt.Errorf("%w: %v", ErrNotPersisted, err)
}

// deliver sends text to owner. Unreachable recipients are logged and not retried.
func (s *Service) deliver(ctx context.Context, owner, text string) error {
	err := s.sender.SendDirect(ctx, owner, text)
	switch {
	case err == nil:
		s.log.Info("message sent", zap.String("owner", owner))
		return nil
	case errors.Is(err, ErrRecipientUnreachable):
		s.log.Warn("recipient unreachable", zap.String("owner", owner), zap.Error(err))
	default:
		s.log.Error("send failed", zap.String("owner", owner), zap.Error(err))
	}
	return err
}
