package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramDomain is the identity domain of Telegram senders.
const TelegramDomain = "telegram"

type telegramBot interface {
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramTransport talks to users in private chats with a Telegram bot.
// Identities look like "<user id>@telegram/<chat id>".
type TelegramTransport struct {
	bot telegramBot
}

// NewTelegramTransport creates a bot client for token.
func NewTelegramTransport(token string) (*TelegramTransport, error) {
	if token == "" {
		return nil, errors.New("telegram transport requires a bot token")
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramTransport{bot: bot}, nil
}

// Name implements Transport.
func (t *TelegramTransport) Name() string { return TelegramDomain }

// Run implements Transport.
func (t *TelegramTransport) Run(ctx context.Context, h Handler) error {
	updates, err := t.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	slog.Info("telegram bot polling", slog.String("component", "chat_telegram"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := updateToMessage(update)
			if !ok || !Accept(&msg) {
				continue
			}
			h(ctx, msg)
		}
	}
}

// Send implements Sender. Markup is sent with HTML parse mode; Telegram has
// no <br/> element so breaks become newlines.
func (t *TelegramTransport) Send(ctx context.Context, to Identity, text, markup string) error {
	chatRef := to.Resource()
	if chatRef == "" {
		chatRef = to.Local()
	}
	chatID, err := strconv.ParseInt(chatRef, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram send: bad chat id in %q: %w", to, err)
	}
	var params *telego.SendMessageParams
	if markup != "" {
		params = tu.Message(tu.ID(chatID), markupToTelegramHTML(markup)).WithParseMode(telego.ModeHTML)
	} else {
		if strings.TrimSpace(text) == "" {
			slog.Debug("telegram send skipped: empty text", slog.String("to", to.String()))
			return nil
		}
		params = tu.Message(tu.ID(chatID), text)
	}
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func updateToMessage(update telego.Update) (Message, bool) {
	m := update.Message
	if m == nil || m.From == nil {
		return Message{}, false
	}
	typ := TypeChat
	if m.Chat.Type != "private" {
		typ = TypeGroupChat
	}
	return Message{
		Type: typ,
		Body: m.Text,
		From: NewIdentity(strconv.FormatInt(m.From.ID, 10), TelegramDomain, strconv.FormatInt(m.Chat.ID, 10)),
	}, true
}

var telegramBreaks = strings.NewReplacer("<br/>", "\n", "<br>", "\n", "<br />", "\n")

func markupToTelegramHTML(markup string) string {
	return telegramBreaks.Replace(markup)
}
