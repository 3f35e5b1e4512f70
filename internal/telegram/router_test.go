package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
	"github.com/ykvlv/companion-bot/internal/llm"
	"github.com/ykvlv/companion-bot/internal/notify"
	"github.com/ykvlv/companion-bot/internal/persist"
	"github.com/ykvlv/companion-bot/internal/scheduler"
	"github.com/ykvlv/companion-bot/internal/store"
)

const chatID int64 = 42

type fakeBot struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	sendErr   error
	requests  []tgbotapi.Chattable
	deleteErr error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.sendErr
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	if _, ok := c.(tgbotapi.DeleteMessageConfig); ok && b.deleteErr != nil {
		return nil, b.deleteErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return "https://files.invalid/" + fileID, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) last() string {
	t := b.texts()
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1]
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time            { return c.t }
func (c fixedClock) Location() *time.Location { return c.t.Location() }

type fakeReplier struct {
	reply string
	err   error
	got   []string
	image []byte
}

func (f *fakeReplier) Reply(_ context.Context, text string, image []byte, _ string) (string, error) {
	f.got = append(f.got, text)
	f.image = image
	return f.reply, f.err
}

type fakeFiles struct{ data []byte }

func (f fakeFiles) Fetch(context.Context, string) ([]byte, error) { return f.data, nil }

func newTestRouter(t *testing.T, chat Replier) (*Router, *fakeBot, *notify.Service) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	clk := fixedClock{t: time.Date(2025, time.January, 10, 12, 0, 0, 0, loc)}

	jobs := scheduler.New(zap.NewNop(), clk.Now, time.Second)
	repo := persist.New(store.NewMemoryStore(), loc, zap.NewNop())
	bot := &fakeBot{}
	svc := notify.New(zap.NewNop(), clk, repo, jobs, NewSender(bot), nil, nil, notify.Options{})
	return NewRouter(bot, zap.NewNop(), svc, chat), bot, svc
}

// command builds an update the way Telegram delivers a /command message.
func command(text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func plain(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID},
		Text: text,
	}}
}

func TestRemindCommand(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()

	r.HandleUpdate(ctx, command("/remind 03-15 09:00 water plants"))
	rs := svc.Reminders("42")
	require.Len(t, rs, 1)
	assert.Equal(t, "water plants", rs[0].Message)
	assert.False(t, rs[0].Repeat)
	assert.Contains(t, bot.last(), "✅")

	r.HandleUpdate(ctx, command("/remind_yearly 12-24 18:00 gifts"))
	rs = svc.Reminders("42")
	require.Len(t, rs, 2)
	assert.True(t, rs[1].Repeat)
}

func TestRemindCommand_RejectsBadInput(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()

	r.HandleUpdate(ctx, command("/remind 13-40 09:00 nope"))
	assert.True(t, strings.HasPrefix(bot.last(), "⛔"), bot.last())

	r.HandleUpdate(ctx, command("/remind 03-15 25:00 nope"))
	assert.True(t, strings.HasPrefix(bot.last(), "⛔"), bot.last())

	r.HandleUpdate(ctx, command("/remind 03-15"))
	assert.Equal(t, remindUsage, bot.last())

	r.HandleUpdate(ctx, command("/remind_in 0m too soon"))
	assert.True(t, strings.HasPrefix(bot.last(), "⛔"), bot.last())

	assert.Empty(t, svc.Reminders("42"))
}

func TestRemindIn(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	r.HandleUpdate(context.Background(), command("/remind_in 1h30m stretch"))

	rs := svc.Reminders("42")
	require.Len(t, rs, 1)
	assert.Equal(t, "01-10", rs[0].Date.String())
	assert.Equal(t, "13:30", rs[0].Time.String())
	assert.Contains(t, bot.last(), "2025-01-10 13:30")
}

func TestRemindersListAndRemove(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()

	r.HandleUpdate(ctx, command("/reminders"))
	assert.Equal(t, noReminders, bot.last())

	r.HandleUpdate(ctx, command("/remind 12-01 09:00 later"))
	r.HandleUpdate(ctx, command("/remind 03-15 09:00 sooner"))
	r.HandleUpdate(ctx, command("/reminders"))
	assert.Equal(t, "1. 03-15 09:00 sooner\n2. 12-01 09:00 later", bot.last())

	r.HandleUpdate(ctx, command("/unremind 1"))
	assert.Equal(t, fmt.Sprintf(reminderRemoved, "sooner"), bot.last())
	require.Len(t, svc.Reminders("42"), 1)

	r.HandleUpdate(ctx, command("/unremind 5"))
	assert.Equal(t, reminderGone, bot.last())
	r.HandleUpdate(ctx, command("/unremind x"))
	assert.Equal(t, fmt.Sprintf(indexUsage, "/unremind"), bot.last())
}

func TestRemindersTooLongToShow(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()
	long := strings.Repeat("x", 80)
	for i := 1; i <= 28; i++ {
		_, err := svc.AddReminder(ctx, "42", domain.MonthDay{Month: time.June, Day: i}, domain.TimeOfDay{Hour: 9}, long, false)
		require.NoError(t, err)
	}
	r.HandleUpdate(ctx, command("/reminders"))
	assert.Equal(t, tooManyReminders, bot.last())
}

func TestRemindersLimitCountsCharacters(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()
	kanji := strings.Repeat("日", 60)
	for i := 1; i <= 12; i++ {
		_, err := svc.AddReminder(ctx, "42", domain.MonthDay{Month: time.June, Day: i}, domain.TimeOfDay{Hour: 9}, kanji, false)
		require.NoError(t, err)
	}
	r.HandleUpdate(ctx, command("/reminders"))
	out := bot.last()
	assert.Greater(t, len(out), maxListLen)
	assert.True(t, strings.HasPrefix(out, "1. 06-01 09:00 "+kanji), out)
}

func TestTodoFlowWithPendingPrompt(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()

	r.HandleUpdate(ctx, command("/todo"))
	assert.Equal(t, askTodo, bot.last())
	r.HandleUpdate(ctx, plain("buy milk"))
	assert.Equal(t, []string{"buy milk"}, svc.Todos("42"))
	assert.Equal(t, fmt.Sprintf(todoAdded, "buy milk", "08:00"), bot.last())

	r.HandleUpdate(ctx, command("/todo call mom"))
	r.HandleUpdate(ctx, command("/todos"))
	assert.Equal(t, todosTitle+"\n1. buy milk\n2. call mom", bot.last())

	r.HandleUpdate(ctx, command("/untodo 1"))
	assert.Equal(t, []string{"call mom"}, svc.Todos("42"))
	r.HandleUpdate(ctx, command("/untodo 9"))
	assert.Equal(t, todoGone, bot.last())
}

func TestDailyTimePresetsAndCustom(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()

	r.HandleUpdate(ctx, command("/daily_time"))
	require.NotEmpty(t, bot.sent)
	msg, ok := bot.sent[len(bot.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.IsType(t, tgbotapi.InlineKeyboardMarkup{}, msg.ReplyMarkup)

	cb := func(data string) tgbotapi.Update {
		return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID: "cb", Data: data, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		}}
	}
	r.HandleUpdate(ctx, cb("daily:21:00"))
	d, ok := svc.Digest("42")
	require.True(t, ok)
	assert.Equal(t, "21:00", d.Time.String())

	r.HandleUpdate(ctx, cb("daily:custom"))
	r.HandleUpdate(ctx, plain("06:45"))
	d, _ = svc.Digest("42")
	assert.Equal(t, "06:45", d.Time.String())

	r.HandleUpdate(ctx, command("/daily_time 24:00"))
	assert.True(t, strings.HasPrefix(bot.last(), "⛔"))
}

func TestSleepCheckCommands(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()

	r.HandleUpdate(ctx, command("/sleep_check 23:30 1234567890"))
	sc, ok := svc.SleepCheck("42")
	require.True(t, ok)
	assert.Equal(t, "1234567890", sc.PresenceID)
	assert.Equal(t, fmt.Sprintf(sleepSet, "23:30"), bot.last())

	r.HandleUpdate(ctx, command("/sleep_check 22:00"))
	assert.Equal(t, sleepUsage, bot.last())
	sc, _ = svc.SleepCheck("42")
	assert.Equal(t, "23:30", sc.Time.String())

	r.HandleUpdate(ctx, command("/sleep_check_off"))
	assert.Equal(t, sleepOff, bot.last())
	r.HandleUpdate(ctx, command("/sleep_check_off"))
	assert.Equal(t, sleepNone, bot.last())
}

func TestChatMembershipAndJobs(t *testing.T) {
	r, bot, svc := newTestRouter(t, nil)
	ctx := context.Background()

	r.HandleUpdate(ctx, command("/chat_on"))
	assert.Equal(t, []string{"42"}, svc.ChatTargets())
	r.HandleUpdate(ctx, command("/chat_off"))
	assert.Empty(t, svc.ChatTargets())

	r.HandleUpdate(ctx, command("/jobs"))
	assert.Equal(t, jobsEmpty, bot.last())

	r.HandleUpdate(ctx, command("/remind 03-15 09:00 water plants"))
	r.HandleUpdate(ctx, command("/todo stretch"))
	r.HandleUpdate(ctx, command("/jobs"))
	out := bot.last()
	assert.Contains(t, out, `reminder #1 "water plants": 2025-03-15 09:00`)
	assert.Contains(t, out, "todo digest: 2025-01-11 08:00")
}

func TestFreeFormChat(t *testing.T) {
	chat := &fakeReplier{reply: "hi honey!"}
	r, bot, _ := newTestRouter(t, chat)
	ctx := context.Background()

	r.HandleUpdate(ctx, plain("how are you?"))
	assert.Equal(t, "hi honey!", bot.last())
	assert.Equal(t, []string{"how are you?"}, chat.got)

	chat.err = fmt.Errorf("%w: quota", llm.ErrRateLimited)
	r.HandleUpdate(ctx, plain("again"))
	assert.Equal(t, chatRateLimited, bot.last())

	chat.err = errors.New("boom")
	r.HandleUpdate(ctx, plain("again"))
	assert.Equal(t, chatUnavailable, bot.last())
}

func TestFreeFormChatDisabled(t *testing.T) {
	r, bot, _ := newTestRouter(t, nil)
	r.HandleUpdate(context.Background(), plain("hello"))
	assert.Equal(t, chatDisabled, bot.last())
}

func TestPhotoGoesToReplier(t *testing.T) {
	chat := &fakeReplier{reply: "cute!"}
	r, bot, _ := newTestRouter(t, chat)
	r.files = fakeFiles{data: []byte("jpeg-bytes")}

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:    &tgbotapi.Chat{ID: chatID},
		From:    &tgbotapi.User{ID: chatID},
		Caption: "my cat",
		Photo:   []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}})
	assert.Equal(t, "cute!", bot.last())
	assert.Equal(t, []string{"my cat"}, chat.got)
	assert.Equal(t, []byte("jpeg-bytes"), chat.image)
}

func TestSenderMapsUnreachable(t *testing.T) {
	bot := &fakeBot{}
	s := NewSender(bot)
	ctx := context.Background()

	require.NoError(t, s.SendDirect(ctx, "42", "hi"))

	bot.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	assert.ErrorIs(t, s.SendDirect(ctx, "42", "hi"), notify.ErrRecipientUnreachable)

	bot.sendErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
	assert.ErrorIs(t, s.SendDirect(ctx, "42", "hi"), notify.ErrRecipientUnreachable)

	bot.sendErr = &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}
	err := s.SendDirect(ctx, "42", "hi")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, notify.ErrRecipientUnreachable)

	bot.sendErr = nil
	assert.ErrorIs(t, s.SendDirect(ctx, "not-a-chat", "hi"), notify.ErrRecipientUnreachable)
}

func TestDeleteMessage(t *testing.T) {
	r, bot, _ := newTestRouter(t, nil)
	ctx := context.Background()

	r.HandleUpdate(ctx, command("/delete 117"))
	assert.Equal(t, deleteDone, bot.last())
	req := bot.requests[len(bot.requests)-1].(tgbotapi.DeleteMessageConfig)
	assert.Equal(t, chatID, req.ChatID)
	assert.Equal(t, 117, req.MessageID)

	for _, bad := range []string{"/delete", "/delete abc", "/delete -3"} {
		r.HandleUpdate(ctx, command(bad))
		assert.Equal(t, deleteUsage, bot.last(), bad)
	}

	cases := []struct {
		err  error
		want string
	}{
		{&tgbotapi.Error{Code: 400, Message: "Bad Request: message to delete not found"}, deleteNotFound},
		{&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was kicked"}, deleteForbidden},
		{errors.New("connection reset"), genericFailure},
	}
	for _, tc := range cases {
		bot.deleteErr = tc.err
		r.HandleUpdate(ctx, command("/delete 117"))
		assert.Equal(t, tc.want, bot.last())
	}
}
