// ABOUTME: In-process engine that answers by echoing through a routed sub-agent
// ABOUTME: Emits a root-agent progress event, a transfer call, then the terminal answer

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRootAgent is the name of the agent that receives every query first.
const DefaultRootAgent = "customer_service"

// EchoEngine is a deterministic Engine for local use and tests. The root agent
// hands every message to the sub-agent chosen by its Router, which replies
// with formatted echo text.
type EchoEngine struct {
	root   string
	router *Router
	delay  time.Duration
	logger *slog.Logger
}

// EchoOption configures an EchoEngine.
type EchoOption func(*EchoEngine)

// WithRoutes replaces the default routing table.
func WithRoutes(routes []Route) EchoOption {
	return func(e *EchoEngine) {
		e.router = NewRouter(routes, e.root)
	}
}

// WithDelay pauses between events to simulate streaming.
func WithDelay(d time.Duration) EchoOption {
	return func(e *EchoEngine) {
		e.delay = d
	}
}

// NewEchoEngine creates an EchoEngine whose root agent is named root.
func NewEchoEngine(root string, logger *slog.Logger, opts ...EchoOption) *EchoEngine {
	if root == "" {
		root = DefaultRootAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &EchoEngine{
		root:   root,
		logger: logger.With("component", "echo-engine"),
	}
	e.router = NewRouter(DefaultRoutes, root)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run streams the events for one query.
func (e *EchoEngine) Run(ctx context.Context, req *RunRequest) (<-chan *Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	invocationID := uuid.New().String()
	target := e.router.Select(req.Message)

	events := []*Event{NewEvent(invocationID, e.root)}
	if target != e.root {
		transfer := NewEvent(invocationID, e.root)
		transfer.Content = &Content{
			Role: "model",
			Parts: []Part{{FunctionCall: &FunctionCall{
				ID:   uuid.New().String(),
				Name: "transfer_to_agent",
				Args: map[string]any{"agent_name": target},
			}}},
		}
		events = append(events, transfer)
	}
	answer := NewEvent(invocationID, target).WithText("model", EchoReply(req.Message))
	answer.Final = true
	events = append(events, answer)

	e.logger.Debug("running query",
		"invocation_id", invocationID,
		"session_id", req.SessionID,
		"agent", target)

	ch := make(chan *Event)
	go func() {
		defer close(ch)
		for i, ev := range events {
			if i > 0 && e.delay > 0 {
				select {
				case <-time.After(e.delay):
				case <-ctx.Done():
					return
				}
			}
			if !send(ctx, ch, ev) {
				return
			}
		}
	}()
	return ch, nil
}

// EchoReply builds the canned answer for input.
func EchoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", strings.TrimSpace(input))
}
