package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ykvlv/companion-bot/internal/notify"
)

// Sender delivers scheduled messages as direct chats. It satisfies notify.Sender.
type Sender struct {
	bot BotAPI
}

func NewSender(bot BotAPI) *Sender {
	return &Sender{bot: bot}
}

// SendDirect sends text to the chat whose id is owner. Blocked bots and unknown
// chats come back as notify.ErrRecipientUnreachable.
func (s *Sender) SendDirect(ctx context.Context, owner, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(owner, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad chat id %q", notify.ErrRecipientUnreachable, owner)
	}
	_, err = s.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err == nil {
		return nil
	}
	if unreachable(err) {
		return fmt.Errorf("%w: %v", notify.ErrRecipientUnreachable, err)
	}
	return fmt.Errorf("send to %d: %w", chatID, err)
}

func unreachable(err error) bool {
	code, msg := apiError(err)
	switch code {
	case http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(msg), "chat not found")
	}
	return false
}

// apiError extracts the Bot API status code and description; code is 0 for
// transport errors.
func apiError(err error) (int, string) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return 0, ""
	}
	return apiErr.Code, apiErr.Message
}

// fileFetcher downloads a file attached to a message.
type fileFetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

const maxPhotoBytes = 10 << 20

type httpFetcher struct {
	bot    BotAPI
	client *http.Client
}

func newHTTPFetcher(bot BotAPI) *httpFetcher {
	return &httpFetcher{bot: bot, client: &http.Client{Timeout: 20 * time.Second}}
}

func (f *httpFetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	url, err := f.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
}
