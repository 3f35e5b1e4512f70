package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/notify"
)

// Pending state keys used in conversational flows.
const (
	pendingTodo  = "await_todo_text"
	pendingDaily = "await_daily_time"
)

// BotAPI is the part of *tgbotapi.BotAPI the router uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Replier answers free-form messages, optionally with an image attached.
type Replier interface {
	Reply(ctx context.Context, text string, image []byte, mimeType string) (string, error)
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot   BotAPI
	log   *zap.Logger
	svc   *notify.Service
	chat  Replier // nil disables free-form chat
	files fileFetcher
	state map[int64]string // chatID -> pending state
	mu    sync.RWMutex
}

// NewRouter creates a new Telegram router. chat may be nil.
func NewRouter(bot BotAPI, log *zap.Logger, svc *notify.Service, chat Replier) *Router {
	return &Router{
		bot:   bot,
		log:   log,
		svc:   svc,
		chat:  chat,
		files: newHTTPFetcher(bot),
		state: make(map[int64]string),
	}
}

// setPending sets a pending state for a chat (non-persistent, in-memory).
func (r *Router) setPending(chatID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[chatID] = s
}

// takePending returns and clears the pending state for a chat.
func (r *Router) takePending(chatID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state[chatID]
	delete(r.state, chatID)
	return s
}

func owner(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		msg := upd.Message
		if msg.From != nil && msg.From.IsBot {
			return
		}
		chatID := msg.Chat.ID

		if msg.IsCommand() {
			r.takePending(chatID)
			r.handleCommand(ctx, chatID, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
			return
		}
		if len(msg.Photo) > 0 {
			r.handlePhoto(ctx, chatID, msg)
			return
		}
		r.handleFreeForm(ctx, chatID, strings.TrimSpace(msg.Text))
		return
	}

	// Callback queries (inline buttons)
	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if cb.Message == nil {
			return
		}
		if strings.HasPrefix(cb.Data, "daily:") {
			r.handleDailyCallback(ctx, cb.Message.Chat.ID, cb.Data, cb.ID)
		}
	}
}

func (r *Router) handleCommand(ctx context.Context, chatID int64, cmd, args string) {
	switch cmd {
	case "start", "help":
		r.handleStart(chatID)
	case "remind":
		r.handleRemind(ctx, chatID, args, false)
	case "remind_yearly":
		r.handleRemind(ctx, chatID, args, true)
	case "remind_in":
		r.handleRemindIn(ctx, chatID, args)
	case "reminders":
		r.handleReminders(chatID)
	case "unremind":
		r.handleUnremind(ctx, chatID, args)
	case "todo":
		r.handleTodo(ctx, chatID, args)
	case "todos":
		r.handleTodos(chatID)
	case "untodo":
		r.handleUntodo(ctx, chatID, args)
	case "daily_time":
		r.handleDailyTime(ctx, chatID, args)
	case "sleep_check":
		r.handleSleepCheck(ctx, chatID, args)
	case "sleep_check_off":
		r.handleSleepCheckOff(ctx, chatID)
	case "chat_on":
		r.handleChatOn(ctx, chatID)
	case "chat_off":
		r.handleChatOff(ctx, chatID)
	case "jobs":
		r.handleJobs(chatID)
	case "delete":
		r.handleDelete(chatID, args)
	default:
		// Unknown command: ignore silently
	}
}
