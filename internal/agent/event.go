// ABOUTME: Execution events emitted by an agent engine while it handles one query
// ABOUTME: Events carry an optional author, optional multi-part content and a terminal flag

package agent

import (
	"time"

	"github.com/google/uuid"
)

// Event is one step of an engine's execution for a single query. Author and
// Content are both optional; many events are progress updates with neither.
type Event struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Author       string    `json:"author,omitempty"`
	Content      *Content  `json:"content,omitempty"`
	Final        bool      `json:"final,omitempty"`
	Timestamp    time.Time `json:"timestamp"`

	// Err is set when the stream failed. It is always the last event on the channel.
	Err error `json:"-"`
}

// Content is the payload of an event.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Part is one piece of content. Usually exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// FunctionCall is a tool invocation requested by an agent.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is the result of a FunctionCall.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(invocationID, author string) *Event {
	return &Event{
		ID:           uuid.New().String(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now(),
	}
}

// WithText sets the event content to a single text part.
func (e *Event) WithText(role, text string) *Event {
	e.Content = &Content{Role: role, Parts: []Part{{Text: text}}}
	return e
}

// FirstText returns the text of the first content part, or "" when the event
// has no content, no parts, or a first part without text.
func (e *Event) FirstText() string {
	if e == nil || e.Content == nil || len(e.Content.Parts) == 0 {
		return ""
	}
	return e.Content.Parts[0].Text
}

// StreamError is a failure reported by an engine while streaming events.
type StreamError struct {
	Engine  string
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return e.Engine + " stream failed: " + e.Message + ": " + e.Err.Error()
	}
	return e.Engine + " stream failed: " + e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// errorEvent wraps a stream failure as the final event of a run.
func errorEvent(invocationID string, err error) *Event {
	ev := NewEvent(invocationID, "")
	ev.Err = err
	return ev
}
