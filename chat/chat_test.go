package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type sentMessage struct {
	to           Identity
	text, markup string
}

type fakeTransport struct {
	name    string
	inbound []Message
	runErr  error

	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Run(ctx context.Context, h Handler) error {
	for _, m := range f.inbound {
		if Accept(&m) {
			h(ctx, m)
		}
	}
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) Send(_ context.Context, to Identity, text, markup string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to, text, markup})
	return nil
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		want     bool
		wantBody string
	}{
		{"chat with body", Message{Type: TypeChat, Body: "  timeline  "}, true, "timeline"},
		{"chat empty body", Message{Type: TypeChat, Body: "   "}, false, ""},
		{"group chat", Message{Type: TypeGroupChat, Body: "timeline"}, false, "timeline"},
		{"error type", Message{Type: "error", Body: "x"}, false, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			if got := Accept(&msg); got != tt.want {
				t.Errorf("Accept() = %v, want %v", got, tt.want)
			}
			if msg.Body != tt.wantBody {
				t.Errorf("body = %q, want %q", msg.Body, tt.wantBody)
			}
		})
	}
}

func TestMuxSendRoutesByDomain(t *testing.T) {
	tw := &fakeTransport{name: TwitchDomain}
	tg := &fakeTransport{name: TelegramDomain}
	m := NewMux(tw, tg)

	if err := m.Send(context.Background(), "alice@twitch", "hi", ""); err != nil {
		t.Fatalf("send twitch: %v", err)
	}
	if err := m.Send(context.Background(), "7@telegram/7", "yo", "<b>yo</b>"); err != nil {
		t.Fatalf("send telegram: %v", err)
	}
	if len(tw.sent) != 1 || tw.sent[0].text != "hi" {
		t.Errorf("twitch sent = %+v", tw.sent)
	}
	if len(tg.sent) != 1 || tg.sent[0].markup != "<b>yo</b>" {
		t.Errorf("telegram sent = %+v", tg.sent)
	}
	if err := m.Send(context.Background(), "bob@irc", "x", ""); err == nil {
		t.Error("expected error for unknown domain")
	}
}

func TestMuxRunDeliversAndStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	tw := &fakeTransport{name: TwitchDomain, inbound: []Message{
		{Type: TypeChat, Body: "timeline", From: "alice@twitch"},
		{Type: TypeGroupChat, Body: "ignored", From: "bob@twitch"},
	}, runErr: boom}
	tg := &fakeTransport{name: TelegramDomain}

	var mu sync.Mutex
	var got []Message
	err := NewMux(tw, tg).Run(context.Background(), func(_ context.Context, msg Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() err = %v, want boom", err)
	}
	if len(got) != 1 || got[0].From != "alice@twitch" {
		t.Errorf("delivered = %+v", got)
	}
}
