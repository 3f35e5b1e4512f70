package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
	"github.com/ykvlv/companion-bot/internal/llm"
	"github.com/ykvlv/companion-bot/internal/notify"
)

const timeLayout = "2006-01-02 15:04"

// --- Generic helpers ---

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// confirm reports a mutation that may have succeeded only in memory.
func (r *Router) confirm(chatID int64, ok string, err error) {
	switch {
	case err == nil:
		r.sendText(chatID, ok)
	case errors.Is(err, notify.ErrNotPersisted):
		r.sendText(chatID, ok+"\n\n"+notSaved)
	default:
		r.fail(chatID, err)
	}
}

func (r *Router) fail(chatID int64, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		r.sendText(chatID, "⛔ "+verr.Error())
		return
	}
	r.log.Error("command failed", zap.Int64("chat_id", chatID), zap.Error(err))
	r.sendText(chatID, genericFailure)
}

func parseIndex(args string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	return n, err == nil && n > 0
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// --- Core commands ---

func (r *Router) handleStart(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, startText)
	msg.ReplyMarkup = mainMenuKeyboard()
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("start reply failed", zap.Error(err))
	}
}

// --- Reminders ---

func (r *Router) handleRemind(ctx context.Context, chatID int64, args string, repeat bool) {
	f := strings.Fields(args)
	if len(f) < 3 {
		r.sendText(chatID, remindUsage)
		return
	}
	md, err := domain.ParseMonthDay(f[0])
	if err != nil {
		r.fail(chatID, err)
		return
	}
	tod, err := domain.ParseTimeOfDay(f[1])
	if err != nil {
		r.fail(chatID, err)
		return
	}
	text := strings.Join(f[2:], " ")

	rem, err := r.svc.AddReminder(ctx, owner(chatID), md, tod, text, repeat)
	r.confirm(chatID, fmt.Sprintf(remindAddedFmt, rem.Date, rem.Time, rem.Message, yesNo(repeat)), err)
}

func (r *Router) handleRemindIn(ctx context.Context, chatID int64, args string) {
	f := strings.Fields(args)
	if len(f) < 2 {
		r.sendText(chatID, remindInUsage)
		return
	}
	offset, err := domain.ParseOffset(f[0])
	if err != nil {
		r.sendText(chatID, "⛔ "+err.Error()+"\n"+remindInUsage)
		return
	}
	rem, at, err := r.svc.AddReminderIn(ctx, owner(chatID), offset, strings.Join(f[1:], " "))
	r.confirm(chatID, fmt.Sprintf(remindInAddedFmt, at.Format(timeLayout), rem.Message), err)
}

// reminderList renders owner's reminders with 1-based positions.
func reminderList(rs []domain.Reminder) string {
	var b strings.Builder
	for i, rem := range rs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s %s %s", i+1, rem.Date, rem.Time, rem.Message)
		if rem.Repeat {
			b.WriteString(" 🔁")
		}
	}
	return b.String()
}

func (r *Router) handleReminders(chatID int64) {
	rs := r.svc.Reminders(owner(chatID))
	if len(rs) == 0 {
		r.sendText(chatID, noReminders)
		return
	}
	body := reminderList(rs)
	if utf8.RuneCountInString(body) > maxListLen {
		r.sendText(chatID, tooManyReminders)
		return
	}
	r.sendText(chatID, body)
}

func (r *Router) handleUnremind(ctx context.Context, chatID int64, args string) {
	n, ok := parseIndex(args)
	if !ok {
		r.sendText(chatID, fmt.Sprintf(indexUsage, "/unremind"))
		return
	}
	rem, err := r.svc.RemoveReminderAt(ctx, owner(chatID), n)
	if errors.Is(err, domain.ErrNotFound) {
		r.sendText(chatID, reminderGone)
		return
	}
	r.confirm(chatID, fmt.Sprintf(reminderRemoved, rem.Message), err)
}

// --- Todos ---

func (r *Router) handleTodo(ctx context.Context, chatID int64, text string) {
	if text == "" {
		r.sendText(chatID, askTodo)
		r.setPending(chatID, pendingTodo)
		return
	}
	d, err := r.svc.AddTodo(ctx, owner(chatID), text)
	r.confirm(chatID, fmt.Sprintf(todoAdded, text, d.Time), err)
}

func (r *Router) handleTodos(chatID int64) {
	todos := r.svc.Todos(owner(chatID))
	if len(todos) == 0 {
		r.sendText(chatID, todosEmpty)
		return
	}
	var b strings.Builder
	b.WriteString(todosTitle)
	for i, t := range todos {
		fmt.Fprintf(&b, "\n%d. %s", i+1, t)
	}
	r.sendText(chatID, b.String())
}

func (r *Router) handleUntodo(ctx context.Context, chatID int64, args string) {
	n, ok := parseIndex(args)
	if !ok {
		r.sendText(chatID, fmt.Sprintf(indexUsage, "/untodo"))
		return
	}
	text, err := r.svc.RemoveTodoAt(ctx, owner(chatID), n)
	if errors.Is(err, domain.ErrNotFound) {
		r.sendText(chatID, todoGone)
		return
	}
	r.confirm(chatID, fmt.Sprintf(todoRemoved, text), err)
}

// --- Daily time flow ---

func (r *Router) handleDailyTime(ctx context.Context, chatID int64, args string) {
	if args == "" {
		msg := tgbotapi.NewMessage(chatID, askDaily)
		msg.ReplyMarkup = dailyPresetsKeyboard()
		if _, err := r.bot.Send(msg); err != nil {
			r.log.Warn("daily presets reply failed", zap.Error(err))
		}
		return
	}
	tod, err := domain.ParseTimeOfDay(args)
	if err != nil {
		r.fail(chatID, err)
		return
	}
	_, err = r.svc.SetDigestTime(ctx, owner(chatID), tod)
	r.confirm(chatID, fmt.Sprintf(dailySet, tod), err)
}

func (r *Router) handleDailyCallback(ctx context.Context, chatID int64, data, cbID string) {
	if err := r.answerCallback(cbID, ""); err != nil {
		r.log.Debug("answer callback failed", zap.Error(err))
	}
	val := strings.TrimPrefix(data, "daily:")
	if val == "custom" {
		r.sendText(chatID, "Enter the time as HH:MM (e.g. 07:30)")
		r.setPending(chatID, pendingDaily)
		return
	}
	r.handleDailyTime(ctx, chatID, val)
}

// --- Sleep check ---

func (r *Router) handleSleepCheck(ctx context.Context, chatID int64, args string) {
	f := strings.Fields(args)
	if len(f) != 2 {
		r.sendText(chatID, sleepUsage)
		return
	}
	tod, err := domain.ParseTimeOfDay(f[0])
	if err != nil {
		r.fail(chatID, err)
		return
	}
	_, err = r.svc.SetSleepCheck(ctx, owner(chatID), tod, f[1])
	r.confirm(chatID, fmt.Sprintf(sleepSet, tod), err)
}

func (r *Router) handleSleepCheckOff(ctx context.Context, chatID int64) {
	err := r.svc.DisableSleepCheck(ctx, owner(chatID))
	if errors.Is(err, domain.ErrNotFound) {
		r.sendText(chatID, sleepNone)
		return
	}
	r.confirm(chatID, sleepOff, err)
}

// --- Random chat membership ---

func (r *Router) handleChatOn(ctx context.Context, chatID int64) {
	r.confirm(chatID, chatOn, r.svc.EnableRandomChat(ctx, owner(chatID)))
}

func (r *Router) handleChatOff(ctx context.Context, chatID int64) {
	r.confirm(chatID, chatOff, r.svc.DisableRandomChat(ctx, owner(chatID)))
}

// --- Diagnostics ---

func (r *Router) handleJobs(chatID int64) {
	me := owner(chatID)
	labels := map[string]string{
		notify.PrefixTodo + me:       "todo digest",
		notify.PrefixSleepCheck + me: "sleep check",
	}
	for i, rem := range r.svc.Reminders(me) {
		labels[notify.PrefixReminder+rem.ID] = fmt.Sprintf("reminder #%d %q", i+1, rem.Message)
	}

	var b strings.Builder
	for _, j := range r.svc.Jobs() {
		label, ok := labels[j.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n• %s: %s", label, j.NextRun.Format(timeLayout))
	}
	if b.Len() == 0 {
		r.sendText(chatID, jobsEmpty)
		return
	}
	r.sendText(chatID, jobsTitle+b.String())
}

// --- Message cleanup ---

func (r *Router) handleDelete(chatID int64, args string) {
	id, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || id <= 0 {
		r.sendText(chatID, deleteUsage)
		return
	}
	_, err = r.bot.Request(tgbotapi.NewDeleteMessage(chatID, id))
	if err == nil {
		r.sendText(chatID, deleteDone)
		return
	}
	switch code, _ := apiError(err); code {
	case http.StatusBadRequest:
		r.sendText(chatID, deleteNotFound)
	case http.StatusForbidden:
		r.sendText(chatID, deleteForbidden)
	default:
		r.log.Warn("delete message failed", zap.Int64("chat_id", chatID), zap.Int("message_id", id), zap.Error(err))
		r.sendText(chatID, genericFailure)
	}
}

// --- Free-form dispatcher ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	switch r.takePending(chatID) {
	case pendingTodo:
		if text == "" {
			r.sendText(chatID, askTodo)
			r.setPending(chatID, pendingTodo)
			return
		}
		r.handleTodo(ctx, chatID, text)
	case pendingDaily:
		r.handleDailyTime(ctx, chatID, text)
	default:
		if text == "" {
			return
		}
		r.converse(ctx, chatID, text, nil)
	}
}

func (r *Router) handlePhoto(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	if r.chat == nil {
		r.sendText(chatID, chatDisabled)
		return
	}
	photo := msg.Photo[len(msg.Photo)-1]
	data, err := r.files.Fetch(ctx, photo.FileID)
	if err != nil {
		r.log.Warn("photo download failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, chatUnavailable)
		return
	}
	r.converse(ctx, chatID, strings.TrimSpace(msg.Caption), data)
}

// converse forwards a message to the completion client and relays its answer.
func (r *Router) converse(ctx context.Context, chatID int64, text string, image []byte) {
	if r.chat == nil {
		r.sendText(chatID, chatDisabled)
		return
	}
	if _, err := r.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		r.log.Debug("chat action failed", zap.Error(err))
	}
	mime := ""
	if image != nil {
		mime = "image/jpeg"
	}
	reply, err := r.chat.Reply(ctx, text, image, mime)
	switch {
	case err == nil:
		r.sendText(chatID, reply)
	case errors.Is(err, llm.ErrRateLimited):
		r.sendText(chatID, chatRateLimited)
	default:
		r.log.Warn("chat reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, chatUnavailable)
	}
}
