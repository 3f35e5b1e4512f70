package notify

import "strings"

const (
	reminderFormat  = "⏰ %s"
	digestHeader    = "☀️ Good morning, honey! Here is today's todo list:"
	sleepCaution    = "🌙 Still online? It's past your bedtime. Put the screen down and get some sleep!"
	randomChatAsk   = "Write one short, friendly message to start a casual chat with someone you care about. " +
		"Ask how their day is going or bring up something light. Reply with the message only."
	randomChatBlank = "👋 Hey! Just checking in. How's your day going?"
)

func digestText(todos []string) string {
	var b strings.Builder
	b.WriteString(digestHeader)
	for _, t := range todos {
		b.WriteString("\n- ")
		b.WriteString(t)
	}
	return b.String()
}
