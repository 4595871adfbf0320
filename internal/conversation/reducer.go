// ABOUTME: Folds an engine's event stream into the final answer and who produced it
// ABOUTME: Last author and last non-empty terminal text win; progress events never count as answers

package conversation

import (
	"context"
	"strings"

	"github.com/2389/coven-concierge/internal/agent"
)

// NoResponseMessage is what users are shown for an empty Outcome.
const NoResponseMessage = "No response generated."

// Outcome is the result of one turn. The zero value means no final answer was
// produced.
type Outcome struct {
	AgentName string `json:"agent_name,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Empty reports whether the turn produced no final text.
func (o Outcome) Empty() bool {
	return o.Text == ""
}

// ReduceOption configures Reduce.
type ReduceOption func(*reducer)

// OnEvent calls fn for every event Reduce consumes, before it is folded.
func OnEvent(fn func(*agent.Event)) ReduceOption {
	return func(r *reducer) {
		r.onEvent = fn
	}
}

type reducer struct {
	onEvent func(*agent.Event)
}

// Reduce consumes events in arrival order until the channel is closed and
// returns the final answer with the last author seen.
//
// An event carrying Err ends the fold and its error is returned unmodified. If
// ctx is done first, whatever was accumulated is discarded and ctx.Err() is
// returned.
func Reduce(ctx context.Context, events <-chan *agent.Event, opts ...ReduceOption) (Outcome, error) {
	r := &reducer{}
	for _, opt := range opts {
		opt(r)
	}

	var lastAuthor, finalText string
	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				if finalText == "" {
					return Outcome{}, nil
				}
				return Outcome{AgentName: lastAuthor, Text: finalText}, nil
			}
			if ev == nil {
				continue
			}
			if r.onEvent != nil {
				r.onEvent(ev)
			}
			if ev.Err != nil {
				return Outcome{}, ev.Err
			}

			if ev.Author != "" {
				lastAuthor = ev.Author
			}
			// Blank terminal text leaves an earlier answer in place
			if ev.Final {
				if text := strings.TrimSpace(ev.FirstText()); text != "" {
					finalText = text
				}
			}
		}
	}
}
