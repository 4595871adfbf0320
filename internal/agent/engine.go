// ABOUTME: Engine contract for running one query against an agent runtime
// ABOUTME: An engine returns a channel of events that it closes when the query settles

package agent

import (
	"context"
	"errors"
)

// ErrEmptyMessage indicates a run was requested without a message.
var ErrEmptyMessage = errors.New("message is required")

// RunRequest is one query submitted to an engine, bound to a user and session.
type RunRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Validate checks the request has what every engine needs.
func (r *RunRequest) Validate() error {
	if r.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Engine runs queries against an agent runtime.
//
// Run returns a channel of events in the order the runtime produced them. The
// engine closes the channel when the query has settled. A mid-stream failure is
// delivered as a final event with Err set. Engines stop sending and close the
// channel once ctx is done.
type Engine interface {
	Run(ctx context.Context, req *RunRequest) (<-chan *Event, error)
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, ch chan<- *Event, ev *Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
