package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Message types as reported by transports. Only TypeChat reaches the router.
const (
	TypeChat      = "chat"
	TypeGroupChat = "groupchat"
)

// Message is one inbound chat event.
type Message struct {
	Type string
	Body string
	From Identity
}

// Handler consumes accepted inbound messages.
type Handler func(ctx context.Context, msg Message)

// Sender delivers outbound messages. markup is optional inline formatted
// content (hyperlinks, line breaks) rendered alongside text when non-empty.
type Sender interface {
	Send(ctx context.Context, to Identity, text, markup string) error
}

// Transport is a chat network connection.
type Transport interface {
	Sender
	// Name is the identity domain the transport owns.
	Name() string
	// Run connects and blocks delivering accepted messages to h until ctx is
	// canceled or the connection fails.
	Run(ctx context.Context, h Handler) error
}

// Accept reports whether msg should be routed, trimming its body in place.
func Accept(msg *Message) bool {
	if msg.Type != TypeChat {
		return false
	}
	msg.Body = strings.TrimSpace(msg.Body)
	return msg.Body != ""
}

// Mux fans several transports into one Handler and routes outbound sends by
// the recipient identity's domain.
type Mux struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewMux returns a Mux over the given transports.
func NewMux(ts ...Transport) *Mux {
	m := &Mux{transports: make(map[string]Transport, len(ts))}
	for _, t := range ts {
		m.transports[t.Name()] = t
	}
	return m
}

// Names lists the registered transport names.
func (m *Mux) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.transports))
	for n := range m.transports {
		out = append(out, n)
	}
	return out
}

// Send implements Sender.
func (m *Mux) Send(ctx context.Context, to Identity, text, markup string) error {
	m.mu.RLock()
	t, ok := m.transports[to.Domain()]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no transport for identity domain %q", to.Domain())
	}
	return t.Send(ctx, to, text, markup)
}

// Run starts every transport and blocks until all of them return. The first
// error cancels the remaining transports and is returned.
func (m *Mux) Run(ctx context.Context, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.RLock()
	ts := make([]Transport, 0, len(m.transports))
	for _, t := range m.transports {
		ts = append(ts, t)
	}
	m.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, t := range ts {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			err := t.Run(ctx, h)
			if err != nil && ctx.Err() == nil {
				slog.Error("chat transport stopped", slog.String("transport", t.Name()), slog.Any("err", err))
				once.Do(func() {
					firstErr = fmt.Errorf("%s transport: %w", t.Name(), err)
					cancel()
				})
			}
		}(t)
	}
	wg.Wait()
	return firstErr
}
