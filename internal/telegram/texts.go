package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// UI texts in English
const (
	startText = "👋 Hi honey, I'm Dorothy!\n\n" +
		"Talk to me about anything, send me photos, and I'll remember things for you:\n\n" +
		"/remind MM-DD HH:MM text: one-time reminder\n" +
		"/remind_yearly MM-DD HH:MM text: every year\n" +
		"/remind_in 1h30m text: reminder after a delay\n" +
		"/reminders, /unremind N\n" +
		"/todo text, /todos, /untodo N, /daily_time HH:MM\n" +
		"/sleep_check HH:MM <account id>, /sleep_check_off\n" +
		"/chat_on, /chat_off: let me message you out of the blue\n" +
		"/jobs: what I have scheduled for you\n" +
		"/delete ID: remove one of my messages"

	remindUsage   = "Usage: /remind MM-DD HH:MM text (e.g. /remind 03-15 09:00 water plants)"
	remindInUsage = "Usage: /remind_in OFFSET text (e.g. /remind_in 90m stretch, /remind_in 2d call mom)"
	indexUsage    = "Send the number from the list, e.g. %s 2"

	remindAddedFmt   = "✅ Got it! %s %s: \"%s\" (repeat: %s)"
	remindInAddedFmt = "✅ I'll remind you at %s: \"%s\""
	noReminders      = "You have no reminders yet~"
	tooManyReminders = "There are too many reminders to show them all! Please remove some~"
	reminderGone     = "I couldn't find that reminder~"
	reminderRemoved  = "✅ Removed \"%s\""

	askTodo     = "What should I add to your todo list?"
	todoAdded   = "✅ I'll remind you about \"%s\" every day at %s!"
	todosEmpty  = "Your todo list is empty!"
	todosTitle  = "📋 Your todo list:"
	todoGone    = "I couldn't find that todo~"
	todoRemoved = "✅ Removed \"%s\""
	askDaily    = "When should I send your todo list? Pick one or type HH:MM:"
	dailySet    = "✅ I'll send your todo list every day at %s!"

	sleepUsage = "Usage: /sleep_check HH:MM <account id> (your presence account id)"
	sleepSet   = "✅ I'll check on you every night at %s!"
	sleepOff   = "✅ Sleep check turned off."
	sleepNone  = "There's no sleep check to turn off."

	chatOn  = "✅ I'll drop by with a message now and then!"
	chatOff = "✅ Okay, no more surprise messages."

	jobsEmpty = "Nothing scheduled for you."
	jobsTitle = "🗓 Scheduled:"

	deleteUsage     = "Usage: /delete MESSAGE_ID (the id must be a number)"
	deleteDone      = "🗑 Deleted!"
	deleteNotFound  = "I couldn't find that message, or it's too old to delete~"
	deleteForbidden = "I'm not allowed to delete that message."

	notSaved       = "⚠️ I did it, but couldn't save it. It may be lost on the next reload."
	genericFailure = "⚠️ Something went wrong. Please try again later."

	chatRateLimited = "⚠️ Looks like I've talked too much today! Let's chat again tomorrow~"
	chatUnavailable = "⚠️ Sorry, I couldn't answer right now. Try again in a bit!"
	chatDisabled    = "I can't chat right now, but I can still keep your reminders!"
)

// maxListLen keeps list replies comfortably under the message size limit, in characters.
const maxListLen = 1900

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/reminders"),
			tgbotapi.NewKeyboardButton("/todos"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/daily_time"),
			tgbotapi.NewKeyboardButton("/jobs"),
		),
	)
}

func dailyPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("07:00", "daily:07:00"),
			tgbotapi.NewInlineKeyboardButtonData("08:00", "daily:08:00"),
			tgbotapi.NewInlineKeyboardButtonData("09:00", "daily:09:00"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("12:00", "daily:12:00"),
			tgbotapi.NewInlineKeyboardButtonData("21:00", "daily:21:00"),
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "daily:custom"),
		),
	)
}
