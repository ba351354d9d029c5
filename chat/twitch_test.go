package chat

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/tweetchat/testutil"
	"github.com/onnwee/tweetchat/twitchapi"
)

type fakeTwitchClient struct {
	onWhisper func(twitch.WhisperMessage)
	onConnect func()
	incoming  []twitch.WhisperMessage
}

func (f *fakeTwitchClient) OnWhisperMessage(cb func(twitch.WhisperMessage)) { f.onWhisper = cb }
func (f *fakeTwitchClient) OnConnect(cb func())                           { f.onConnect = cb }
func (f *fakeTwitchClient) Disconnect() error                             { return nil }
func (f *fakeTwitchClient) Connect() error {
	f.onConnect()
	for _, w := range f.incoming {
		f.onWhisper(w)
	}
	return twitch.ErrClientDisconnected
}

type fakeWhisperer struct {
	ids     map[string]string
	sent    [][2]string
	sendErr error
}

func (f *fakeWhisperer) GetUserID(_ context.Context, login string) (string, error) {
	id, ok := f.ids[login]
	if !ok {
		return "", errors.New("not found")
	}
	return id, nil
}

func (f *fakeWhisperer) SendWhisper(_ context.Context, toUserID, message string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, [2]string{toUserID, message})
	return nil
}

func TestTwitchTransportRun(t *testing.T) {
	fc := &fakeTwitchClient{incoming: []twitch.WhisperMessage{
		{User: twitch.User{ID: "42", Name: "Alice"}, Message: "  tweet hello  "},
		{User: twitch.User{ID: "43", Name: "bob"}, Message: "   "},
	}}
	tr := &TwitchTransport{username: "bot", client: fc, whispers: &fakeWhisperer{}}

	var got []Message
	if err := tr.Run(context.Background(), func(_ context.Context, m Message) { got = append(got, m) }); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].From != "alice@twitch/42" || got[0].Body != "tweet hello" {
		t.Errorf("message = %+v", got[0])
	}
	if got[0].From.Normalize() != "alice@twitch" {
		t.Errorf("normalized = %q", got[0].From.Normalize())
	}
}

func TestTwitchTransportSendJoinsLines(t *testing.T) {
	fw := &fakeWhisperer{}
	tr := &TwitchTransport{username: "bot", client: &fakeTwitchClient{}, whispers: fw}
	if err := tr.Send(context.Background(), "alice@twitch/42", "@a: one\n\n@b: two", "<a>ignored</a>"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	want := [][2]string{{"42", "@a: one | @b: two"}}
	if !reflect.DeepEqual(fw.sent, want) {
		t.Errorf("whispers = %v, want %v", fw.sent, want)
	}
}

func TestTwitchTransportSendResolvesBareIdentity(t *testing.T) {
	fw := &fakeWhisperer{ids: map[string]string{"alice": "42"}}
	tr := &TwitchTransport{username: "bot", client: &fakeTwitchClient{}, whispers: fw}
	if err := tr.Send(context.Background(), "alice@twitch", "hi", ""); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !reflect.DeepEqual(fw.sent, [][2]string{{"42", "hi"}}) {
		t.Errorf("whispers = %v", fw.sent)
	}
	if err := tr.Send(context.Background(), "nobody@twitch", "hi", ""); err == nil {
		t.Error("expected error for unresolvable login")
	}
}

func TestTwitchTransportSendErrors(t *testing.T) {
	fw := &fakeWhisperer{sendErr: errors.New("helix 401: Invalid OAuth token")}
	tr := &TwitchTransport{username: "bot", client: &fakeTwitchClient{}, whispers: fw}
	if err := tr.Send(context.Background(), "alice@twitch/42", "hi", ""); err == nil {
		t.Error("expected Helix failure to propagate")
	}
	if err := tr.Send(context.Background(), "alice@twitch/42", " \n ", ""); err != nil {
		t.Errorf("empty send: %v", err)
	}
}

func TestWhisperParts(t *testing.T) {
	long := strings.Repeat("x", maxWhisperRunes+10)
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"blank lines", "\n \n", nil},
		{"single", "Tweet sent", []string{"Tweet sent"}},
		{"joined", "a\n\nb\nc", []string{"a | b | c"}},
		{"split", long, []string{long[:maxWhisperRunes], long[maxWhisperRunes:]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := whisperParts(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("whisperParts = %q, want %q", got, tt.want)
			}
			for _, p := range got {
				if utf8.RuneCountInString(p) > maxWhisperRunes {
					t.Errorf("part of %d runes exceeds limit", utf8.RuneCountInString(p))
				}
			}
		})
	}
}

// TestTwitchTransportSendViaHelix runs Send against a Helix mock with the
// real client.
func TestTwitchTransportSendViaHelix(t *testing.T) {
	m := testutil.NewMockHelixServer(t, "bot-token")
	m.AddUser("carol", "77")
	helix := &twitchapi.HelixClient{
		Token:      &twitchapi.UserToken{Token: "oauth:bot-token", AuthBase: m.URL, HTTPClient: m.Client()},
		BaseURL:    m.URL,
		HTTPClient: m.Client(),
	}
	tr, err := NewTwitchTransport("bot", "bot-token", helix)
	if err != nil {
		t.Fatalf("NewTwitchTransport: %v", err)
	}
	ctx := context.Background()
	if err := tr.Send(ctx, "alice@twitch/42", "Open the URL\nhttps://example.com/auth", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := tr.Send(ctx, "carol@twitch", "Tweet sent", ""); err != nil {
		t.Fatalf("Send bare: %v", err)
	}
	if got := m.Whispers("42"); !reflect.DeepEqual(got, []string{"Open the URL | https://example.com/auth"}) {
		t.Errorf("whispers to 42 = %v", got)
	}
	if got := m.Whispers("77"); !reflect.DeepEqual(got, []string{"Tweet sent"}) {
		t.Errorf("whispers to 77 = %v", got)
	}
}

func TestNewTwitchTransportRequiresCreds(t *testing.T) {
	w := &fakeWhisperer{}
	if _, err := NewTwitchTransport("", "tok", w); err == nil {
		t.Error("expected error for empty username")
	}
	if _, err := NewTwitchTransport("bot", "", w); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := NewTwitchTransport("bot", "tok", nil); err == nil {
		t.Error("expected error without a whisper sender")
	}
}
