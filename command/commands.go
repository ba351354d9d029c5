package command

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/onnwee/tweetchat/twitter"
)

// MaxTweetLength is the longest status Post accepts, in characters.
const MaxTweetLength = 140

// Fixed replies.
const (
	ReplyNotFound    = "Command not found"
	ReplyEmptyTweet  = "Empty tweet"
	ReplyTweetSent   = "Tweet sent"
	ReplyMessageSent = "Message sent"
)

// API is the subset of the social-network client the commands call.
type API interface {
	HomeTimeline(ctx context.Context, page int) ([]twitter.Status, error)
	UpdateStatus(ctx context.Context, text string) error
	SendDirectMessage(ctx context.Context, screenName, text string) error
}

// Reply is a command result. Markup, when set, is an HTML rendering of Text.
type Reply struct {
	Text   string
	Markup string
}

// Set executes commands for one authorized user.
type Set struct {
	api API
}

// NewSet binds a command set to api.
func NewSet(api API) *Set { return &Set{api: api} }

// Execute runs the command described by m. Errors are returned only for
// failures the user cannot act on; expected rejections become replies.
func (s *Set) Execute(ctx context.Context, m Match) (Reply, error) {
	switch m.Kind {
	case KindTimeline:
		page := 1
		if p, ok := m.Params[ParamPage]; ok {
			n, err := strconv.Atoi(p)
			if err == nil && n > 0 {
				page = n
			}
		}
		return s.Timeline(ctx, page)
	case KindPost:
		return s.Post(ctx, m.Params[ParamTweet])
	case KindDirectMessage:
		return s.DirectMessage(ctx, m.Params[ParamScreenName], m.Params[ParamText])
	default:
		return s.NotFound(), nil
	}
}

// NotFound is the fallback reply.
func (s *Set) NotFound() Reply { return Reply{Text: ReplyNotFound} }

// Timeline renders one page of the home timeline.
func (s *Set) Timeline(ctx context.Context, page int) (Reply, error) {
	statuses, err := s.api.HomeTimeline(ctx, page)
	if err != nil {
		return Reply{}, fmt.Errorf("timeline page %d: %w", page, err)
	}
	text := make([]string, 0, len(statuses))
	markup := make([]string, 0, len(statuses))
	for _, st := range statuses {
		text = append(text, "@"+st.Author+": "+st.Text)
		markup = append(markup, fmt.Sprintf(`<a href="http://twitter.com/%s">@%s</a>: %s`,
			html.EscapeString(st.Author), html.EscapeString(st.Author), html.EscapeString(st.Text)))
	}
	return Reply{Text: strings.Join(text, "\n\n"), Markup: strings.Join(markup, "<br/><br/>")}, nil
}

// Post publishes tweet after checking it is non-empty and short enough.
func (s *Set) Post(ctx context.Context, tweet string) (Reply, error) {
	tweet = strings.TrimSpace(tweet)
	if tweet == "" {
		return Reply{Text: ReplyEmptyTweet}, nil
	}
	if n := utf8.RuneCountInString(tweet); n > MaxTweetLength {
		return Reply{Text: fmt.Sprintf("Tweet too long, %d characters. Must be up to %d.", n, MaxTweetLength)}, nil
	}
	if err := s.api.UpdateStatus(ctx, tweet); err != nil {
		if reason, ok := clientReason(err); ok {
			return Reply{Text: reason}, nil
		}
		return Reply{}, fmt.Errorf("post status: %w", err)
	}
	return Reply{Text: ReplyTweetSent}, nil
}

// DirectMessage sends text to screenName. Upstream rejections are returned
// as the reply text.
func (s *Set) DirectMessage(ctx context.Context, screenName, text string) (Reply, error) {
	if err := s.api.SendDirectMessage(ctx, screenName, text); err != nil {
		if reason, ok := clientReason(err); ok {
			return Reply{Text: reason}, nil
		}
		return Reply{}, fmt.Errorf("direct message: %w", err)
	}
	return Reply{Text: ReplyMessageSent}, nil
}

// clientReason extracts a rejection the user can read. Expired
// authorization is left to the caller, which must reset the session.
func clientReason(err error) (string, bool) {
	if twitter.IsAuthExpired(err) {
		return "", false
	}
	var ce *twitter.ClientError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
