package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ykvlv/companion-bot/internal/domain"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	Timezone string `envconfig:"TIMEZONE" default:"Asia/Tokyo"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // healthz

	StoreBackend string `envconfig:"STORE_BACKEND" default:"sqlite"` // sqlite|postgrest|memory
	DBPath       string `envconfig:"DB_PATH" default:"./data/companion.db"`
	SupabaseURL  string `envconfig:"SUPABASE_URL"`
	SupabaseKey  string `envconfig:"SUPABASE_KEY"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	DiscordToken   string `envconfig:"DISCORD_TOKEN"`
	DiscordGuildID string `envconfig:"DISCORD_GUILD_ID"`

	RandomChatSlots SlotList      `envconfig:"RANDOM_CHAT_SLOTS" default:"afternoon=13:00-16:00"`
	RandomChatReset string        `envconfig:"RANDOM_CHAT_RESET" default:"00:00"`
	ReloadInterval  time.Duration `envconfig:"RELOAD_INTERVAL" default:"1h"`
	HandlerTimeout  time.Duration `envconfig:"HANDLER_TIMEOUT" default:"30s"`
}

// SlotList decodes "name=HH:MM-HH:MM;name=HH:MM-HH:MM" into chat slots.
type SlotList []domain.ChatSlot

// Decode implements envconfig.Decoder.
func (s *SlotList) Decode(value string) error {
	var out SlotList
	seen := make(map[string]bool)
	for _, item := range strings.Split(value, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, window, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("slot %q: expected name=HH:MM-HH:MM", item)
		}
		if seen[name] {
			return fmt.Errorf("slot %q: duplicate name", name)
		}
		from, to, err := domain.ParseWindow(window)
		if err != nil {
			return fmt.Errorf("slot %q: %w", name, err)
		}
		seen[name] = true
		out = append(out, domain.ChatSlot{Name: name, FromM: from, ToM: to})
	}
	*s = out
	return nil
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks settings envconfig cannot express.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BotToken) == "" {
		errs = append(errs, errors.New("BOT_TOKEN is empty"))
	}
	if _, err := domain.LoadZone(c.Timezone); err != nil {
		errs = append(errs, err)
	}
	switch c.StoreBackend {
	case "sqlite", "memory":
	case "postgrest":
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			errs = append(errs, errors.New("postgrest backend needs SUPABASE_URL and SUPABASE_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if _, err := c.ResetTime(); err != nil {
		errs = append(errs, fmt.Errorf("RANDOM_CHAT_RESET: %w", err))
	}
	if c.ReloadInterval <= 0 {
		errs = append(errs, errors.New("RELOAD_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// ResetTime parses RandomChatReset.
func (c Config) ResetTime() (domain.TimeOfDay, error) {
	return domain.ParseTimeOfDay(c.RandomChatReset)
}
