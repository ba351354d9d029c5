package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// TwitchDomain is the identity domain of whisper senders.
const TwitchDomain = "twitch"

// maxWhisperRunes is the longest whisper Helix accepts for a first contact.
const maxWhisperRunes = 500

// whisperSeparator joins reply lines into one whisper.
const whisperSeparator = " | "

// twitchClient is the subset of *twitch.Client the transport uses.
type twitchClient interface {
	OnWhisperMessage(func(twitch.WhisperMessage))
	OnConnect(func())
	Connect() error
	Disconnect() error
}

// Whisperer sends whispers as the bot account. Twitch only accepts outbound
// whispers through Helix; *twitchapi.HelixClient implements it.
type Whisperer interface {
	GetUserID(ctx context.Context, login string) (string, error)
	SendWhisper(ctx context.Context, toUserID, message string) error
}

// TwitchTransport receives whispers over IRC and answers through Helix.
// Identities look like "login@twitch/<user id>".
type TwitchTransport struct {
	username string
	client   twitchClient
	whispers Whisperer
}

// NewTwitchTransport returns a transport logged in as username with an IRC
// OAuth token ("oauth:..." prefix optional), replying through w.
func NewTwitchTransport(username, oauthToken string, w Whisperer) (*TwitchTransport, error) {
	if username == "" || oauthToken == "" {
		return nil, errors.New("twitch transport requires bot username and oauth token")
	}
	if w == nil {
		return nil, errors.New("twitch transport requires a whisper sender")
	}
	if !strings.HasPrefix(oauthToken, "oauth:") {
		oauthToken = "oauth:" + oauthToken
	}
	return &TwitchTransport{username: username, client: twitch.NewClient(username, oauthToken), whispers: w}, nil
}

// Name implements Transport.
func (t *TwitchTransport) Name() string { return TwitchDomain }

// Run implements Transport.
func (t *TwitchTransport) Run(ctx context.Context, h Handler) error {
	t.client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("username", t.username), slog.String("component", "chat_twitch"))
	})
	t.client.OnWhisperMessage(func(w twitch.WhisperMessage) {
		msg := whisperToMessage(w)
		if !Accept(&msg) {
			return
		}
		h(ctx, msg)
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := t.client.Disconnect(); err != nil {
				slog.Debug("twitch disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()

	err := t.client.Connect()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// Send implements Sender. Whispers are single-line plain text: markup is
// dropped and non-empty lines are joined into one whisper, split only when
// it exceeds the length limit.
func (t *TwitchTransport) Send(ctx context.Context, to Identity, text, _ string) error {
	login := to.Local()
	if login == "" {
		return errors.New("twitch send: empty recipient")
	}
	parts := whisperParts(text)
	if len(parts) == 0 {
		slog.Debug("twitch send skipped: empty text", slog.String("to", to.String()))
		return nil
	}
	userID := to.Resource()
	if userID == "" {
		id, err := t.whispers.GetUserID(ctx, login)
		if err != nil {
			return fmt.Errorf("twitch send: resolve %s: %w", login, err)
		}
		userID = id
	}
	for _, p := range parts {
		if err := t.whispers.SendWhisper(ctx, userID, p); err != nil {
			return fmt.Errorf("twitch send: %w", err)
		}
	}
	return nil
}

// whisperParts flattens text to one line and cuts it into whisper-sized
// chunks.
func whisperParts(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	flat := strings.Join(lines, whisperSeparator)
	var out []string
	for flat != "" {
		if utf8.RuneCountInString(flat) <= maxWhisperRunes {
			out = append(out, flat)
			break
		}
		r := []rune(flat)
		out = append(out, string(r[:maxWhisperRunes]))
		flat = strings.TrimSpace(string(r[maxWhisperRunes:]))
	}
	return out
}

func whisperToMessage(w twitch.WhisperMessage) Message {
	return Message{
		Type: TypeChat,
		Body: w.Message,
		From: NewIdentity(strings.ToLower(w.User.Name), TwitchDomain, w.User.ID),
	}
}
