// Package bot routes inbound chat messages through each user's session:
// unauthenticated users are walked through the authorization handshake,
// verified users have their text resolved and executed as commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/tweetchat/chat"
	"github.com/onnwee/tweetchat/command"
	"github.com/onnwee/tweetchat/session"
	"github.com/onnwee/tweetchat/telemetry"
	"github.com/onnwee/tweetchat/twitter"
)

// Scripted replies of the handshake.
const (
	MsgVisitURL     = `Open the URL below and click "Authorize app":`
	MsgEnterCode    = "Enter the verification code:"
	MsgAuthComplete = "Authentication complete!"
	MsgInvalidCode  = "Invalid verification code"
	MsgAuthExpired  = "Authorization expired. Send any message to authorize again."

	// MsgNothingToShow stands in for an empty command result, such as a
	// timeline page past the end.
	MsgNothingToShow = "Nothing to show"
)

// Router turns inbound messages into session transitions and replies.
type Router struct {
	registry *session.Registry
	resolver *command.Resolver
	out      chat.Sender

	mu    sync.Mutex
	lanes map[chat.Identity][]chat.Message
	wg    sync.WaitGroup
}

// New returns a router replying through out.
func New(registry *session.Registry, resolver *command.Resolver, out chat.Sender) *Router {
	return &Router{
		registry: registry,
		resolver: resolver,
		out:      out,
		lanes:    make(map[chat.Identity][]chat.Message),
	}
}

// Dispatch queues msg and returns immediately. Messages from one account
// are handled in arrival order; different accounts proceed in parallel.
// It satisfies chat.Handler.
func (r *Router) Dispatch(ctx context.Context, msg chat.Message) {
	key := msg.From.Normalize()
	r.mu.Lock()
	q, running := r.lanes[key]
	r.lanes[key] = append(q, msg)
	if !running {
		r.wg.Add(1)
		go r.drain(ctx, key)
	}
	r.mu.Unlock()
}

func (r *Router) drain(ctx context.Context, key chat.Identity) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		q := r.lanes[key]
		if len(q) == 0 {
			delete(r.lanes, key)
			r.mu.Unlock()
			return
		}
		msg := q[0]
		r.lanes[key] = q[1:]
		r.mu.Unlock()

		mctx, corr := telemetry.NewCorrelation(ctx)
		if err := r.Handle(mctx, msg); err != nil {
			slog.Error("message handling failed",
				slog.String("component", "bot"),
				slog.String("corr", corr),
				slog.String("from", msg.From.String()),
				slog.Any("err", err))
		}
	}
}

// Wait blocks until every queued message has been handled.
func (r *Router) Wait() { r.wg.Wait() }

// Handle processes one accepted message synchronously. Returned errors are
// outages or defects; nothing is sent to the user for them.
func (r *Router) Handle(ctx context.Context, msg chat.Message) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "bot", "handle_message",
		attribute.String("chat.transport", msg.From.Domain()))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()
	telemetry.IncMessage(msg.From.Domain())

	s := r.registry.GetOrCreate(msg.From)
	s.Lock()
	defer s.Unlock()

	if s.IsVerified() {
		return r.execute(ctx, s, msg)
	}
	reloaded, err := s.ReloadAuthentication(ctx)
	if err != nil {
		return err
	}
	if reloaded {
		telemetry.LoggerWithCorr(ctx).Info("session restored from saved credential",
			slog.String("component", "bot"),
			slog.String("identity", s.Identity().String()))
		return r.execute(ctx, s, msg)
	}
	if s.IsAuthenticating() {
		return r.verify(ctx, s, msg)
	}
	return r.begin(ctx, s, msg)
}

func (r *Router) execute(ctx context.Context, s *session.Session, msg chat.Message) error {
	m := r.resolver.Resolve(msg.Body)
	telemetry.IncCommand(m.Kind.String())
	reply, err := command.NewSet(s.API()).Execute(ctx, m)
	if twitter.IsAuthExpired(err) {
		return r.expire(ctx, s, msg, err)
	}
	if err != nil {
		return fmt.Errorf("%s command: %w", m.Kind, err)
	}
	if reply.Text == "" && reply.Markup == "" {
		reply.Text = MsgNothingToShow
	}
	return r.send(ctx, msg.From, reply.Text, reply.Markup)
}

// expire forgets a credential the provider rejected so the next message
// starts a new handshake.
func (r *Router) expire(ctx context.Context, s *session.Session, msg chat.Message, cause error) error {
	if err := s.Expire(ctx); err != nil {
		return err
	}
	telemetry.LoggerWithCorr(ctx).Warn("saved authorization rejected, session reset",
		slog.String("component", "bot"),
		slog.String("identity", s.Identity().String()),
		slog.Any("err", cause))
	return r.send(ctx, msg.From, MsgAuthExpired, "")
}

func (r *Router) verify(ctx context.Context, s *session.Session, msg chat.Message) error {
	ok, err := s.Verify(ctx, msg.Body)
	if err != nil {
		return err
	}
	if !ok {
		return r.send(ctx, msg.From, MsgInvalidCode, "")
	}
	if err := s.Save(ctx); err != nil {
		return err
	}
	telemetry.LoggerWithCorr(ctx).Info("authorization complete",
		slog.String("component", "bot"),
		slog.String("identity", s.Identity().String()))
	return r.send(ctx, msg.From, MsgAuthComplete, "")
}

func (r *Router) begin(ctx context.Context, s *session.Session, msg chat.Message) error {
	link, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	for _, text := range []string{MsgVisitURL, link, MsgEnterCode} {
		if err := r.send(ctx, msg.From, text, ""); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) send(ctx context.Context, to chat.Identity, text, markup string) error {
	if err := r.out.Send(ctx, to, text, markup); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}
