// Package presence reports a user's live status in the reference guild.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
)

// Nop answers unknown for everyone. It stands in when no guild is configured.
type Nop struct{}

func (Nop) Status(context.Context, string) (domain.Presence, error) { return domain.PresenceUnknown, nil }

// Tracker keeps a gateway session open and reads presences from its state cache.
type Tracker struct {
	session *discordgo.Session
	guildID string
	log     *zap.Logger

	mu       sync.Mutex
	onResume []func()
}

// NewTracker prepares a session for token. The gateway is not opened until Open.
func NewTracker(token, guildID string, log *zap.Logger) (*Tracker, error) {
	if token == "" || guildID == "" {
		return nil, errors.New("presence: token and guild id are required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildPresences | discordgo.IntentsGuildMembers
	s.StateEnabled = true
	s.State.TrackPresences = true

	t := &Tracker{session: s, guildID: guildID, log: log}
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		log.Info("presence gateway ready", zap.String("guild_id", guildID))
	})
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		log.Info("presence gateway resumed")
		t.resumed()
	})
	return t, nil
}

// OnResume registers fn to run whenever the gateway session resumes.
func (t *Tracker) OnResume(fn func()) {
	t.mu.Lock()
	t.onResume = append(t.onResume, fn)
	t.mu.Unlock()
}

func (t *Tracker) resumed() {
	t.mu.Lock()
	fns := append([]func(){}, t.onResume...)
	t.mu.Unlock()
	for _, fn := range fns {
		go fn()
	}
}

func (t *Tracker) Open() error {
	if err := t.session.Open(); err != nil {
		return fmt.Errorf("presence: open gateway: %w", err)
	}
	return nil
}

func (t *Tracker) Close() error {
	return t.session.Close()
}

// Status returns userID's presence in the guild. A user absent from the cache is
// offline as far as the gateway knows.
func (t *Tracker) Status(_ context.Context, userID string) (domain.Presence, error) {
	p, err := t.session.State.Presence(t.guildID, userID)
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return domain.PresenceOffline, nil
	}
	if err != nil {
		return domain.PresenceUnknown, fmt.Errorf("presence of %s: %w", userID, err)
	}
	return FromStatus(p.Status), nil
}

// FromStatus maps a gateway status onto the domain's presence values.
func FromStatus(s discordgo.Status) domain.Presence {
	switch s {
	case discordgo.StatusOnline:
		return domain.PresenceOnline
	case discordgo.StatusIdle:
		return domain.PresenceIdle
	case discordgo.StatusDoNotDisturb:
		return domain.PresenceDoNotDisturb
	case discordgo.StatusOffline, discordgo.StatusInvisible:
		return domain.PresenceOffline
	}
	return domain.PresenceUnknown
}
