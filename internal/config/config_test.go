package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykvlv/companion-bot/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", cfg.Timezone)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, time.Hour, cfg.ReloadInterval)
	assert.Equal(t, 30*time.Second, cfg.HandlerTimeout)
	assert.Equal(t, SlotList{{Name: "afternoon", FromM: 13 * 60, ToM: 16 * 60}}, cfg.RandomChatSlots)

	reset, err := cfg.ResetTime()
	require.NoError(t, err)
	assert.Equal(t, domain.TimeOfDay{}, reset)
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	_, err := Load()
	assert.ErrorContains(t, err, "BOT_TOKEN")

	require.NoError(t, os.Unsetenv("BOT_TOKEN"))
	_, err = Load()
	assert.ErrorContains(t, err, "BOT_TOKEN")
}

func TestLoad_PostgRESTNeedsCredentials(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("STORE_BACKEND", "postgrest")
	_, err := Load()
	assert.ErrorContains(t, err, "SUPABASE_URL")

	t.Setenv("SUPABASE_URL", "https://x.supabase.co")
	t.Setenv("SUPABASE_KEY", "key")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	t.Setenv("STORE_BACKEND", "csv")
	t.Setenv("RANDOM_CHAT_RESET", "25:00")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "Mars/Olympus")
	assert.ErrorContains(t, err, "csv")
	assert.ErrorContains(t, err, "RANDOM_CHAT_RESET")
}

func TestSlotList_Decode(t *testing.T) {
	var s SlotList
	require.NoError(t, s.Decode("morning=09:00-12:00; evening = 18:30-21:00;"))
	assert.Equal(t, SlotList{
		{Name: "morning", FromM: 9 * 60, ToM: 12 * 60},
		{Name: "evening", FromM: 18*60 + 30, ToM: 21 * 60},
	}, s)

	require.NoError(t, s.Decode(""))
	assert.Empty(t, s)

	for _, bad := range []string{"morning", "=09:00-10:00", "a=10:00-09:00", "a=09:00-10:00;a=11:00-12:00", "a=9-10"} {
		assert.Error(t, s.Decode(bad), bad)
	}
}
