// Package command parses chat text into commands and executes them against
// an authorized social-network client.
package command

import (
	"regexp"
	"strings"
)

// Kind identifies a command.
type Kind int

const (
	KindNotFound Kind = iota
	KindTimeline
	KindPost
	KindDirectMessage
)

func (k Kind) String() string {
	switch k {
	case KindTimeline:
		return "timeline"
	case KindPost:
		return "post"
	case KindDirectMessage:
		return "direct_message"
	default:
		return "not_found"
	}
}

// Param names captured by the default rules.
const (
	ParamPage       = "page"
	ParamTweet      = "tweet"
	ParamScreenName = "screen_name"
	ParamText       = "text"
)

// Match is the result of resolving one line of text.
type Match struct {
	Kind   Kind
	Params map[string]string
}

type rule struct {
	re   *regexp.Regexp
	kind Kind
}

// Resolver maps text to commands. Rules are tried in order and the first
// match wins.
type Resolver struct {
	rules []rule
}

var defaultRules = []rule{
	{regexp.MustCompile(`^timeline$`), KindTimeline},
	{regexp.MustCompile(`^timeline (?P<page>\d+)$`), KindTimeline},
	{regexp.MustCompile(`(?s)^tweet (?P<tweet>.*)$`), KindPost},
	{regexp.MustCompile(`(?s)^dm @(?P<screen_name>[\w-]+) (?P<text>.*)$`), KindDirectMessage},
}

// NewResolver returns a resolver with the built-in command rules.
func NewResolver() *Resolver {
	return &Resolver{rules: defaultRules}
}

// Resolve trims text and returns the first matching command, or KindNotFound.
func (r *Resolver) Resolve(text string) Match {
	text = strings.TrimSpace(text)
	for _, rl := range r.rules {
		m := rl.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		params := make(map[string]string)
		for i, name := range rl.re.SubexpNames() {
			if i > 0 && name != "" {
				params[name] = m[i]
			}
		}
		return Match{Kind: rl.kind, Params: params}
	}
	return Match{Kind: KindNotFound, Params: map[string]string{}}
}
