package server

import (
	"context"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the dependencies of the HTTP handlers.
type Options struct {
	DB Pinger
	// SchemaVersion reports the applied migration version; nil skips the check.
	SchemaVersion func() (version uint, dirty bool, err error)
	// Transports lists the chat transports the bot runs.
	Transports []string
	// BotName is shown on the callback page, e.g. "@tweetchat_bot".
	BotName string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	opts Options
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(opts Options) *Handlers {
	return &Handlers{opts: opts}
}
